// Package batch ingests many payloads through one registry with bounded
// concurrency, optionally persisting records and detections.
package batch

import (
	"context"
	"sync"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/registry"
	"github.com/qarbon/qingest/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the worker pool when Config.Concurrency is unset.
const DefaultConcurrency = 5

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Item is one payload to ingest. Source names it in logs and storage.
type Item struct {
	Source  string
	Payload *payload.Payload
}

// Config holds everything Run needs.
type Config struct {
	Registry    *registry.Registry
	DB          *storage.DB     // optional
	Concurrency int             // defaults to 5 if <= 0
	Log         registry.Logger // optional; nil = no logging

	// Detect is applied to every detection call, e.g. a per-item timeout.
	Detect []registry.DetectOption

	// OnItemDone is called per item from worker goroutines as soon as it
	// finishes. Nil = no callback.
	OnItemDone func(Outcome)
}

// Outcome is the result of one item. Err is non-nil when the item failed;
// a failed item never stops the batch.
type Outcome struct {
	Index     int
	Source    string
	Data      *adapters.NormalizedData
	Detection *registry.DetectionResult
	RecordID  string
	Err       error
}

// Result holds outcomes in input order.
type Result struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
}

// Errors lists the per-item failures.
func (r *Result) Errors() []error {
	var out []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.Err)
		}
	}
	return out
}

// Run ingests items concurrently. It returns an error only when ctx is
// cancelled; items that were not started are then reported with ctx's error.
func Run(ctx context.Context, cfg Config, items []Item) (*Result, error) {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	result := &Result{Outcomes: make([]Outcome, len(items))}
	// sqlite takes one writer at a time
	var dbMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, it := range items {
		i, it := i, it
		result.Outcomes[i] = Outcome{Index: i, Source: it.Source}
		if gctx.Err() != nil {
			result.Outcomes[i].Err = gctx.Err()
			continue
		}
		g.Go(func() error {
			o := processOne(gctx, cfg, log, &dbMu, i, it)
			result.Outcomes[i] = o
			if cfg.OnItemDone != nil {
				cfg.OnItemDone(o)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range result.Outcomes {
		if o.Err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func processOne(ctx context.Context, cfg Config, log registry.Logger, dbMu *sync.Mutex, i int, it Item) Outcome {
	o := Outcome{Index: i, Source: it.Source}
	if err := ctx.Err(); err != nil {
		o.Err = err
		return o
	}

	data, res, err := cfg.Registry.IngestDetailed(ctx, it.Payload, cfg.Detect...)
	o.Data, o.Detection = data, res

	if cfg.DB != nil && res != nil {
		withLock(dbMu, func() {
			if lerr := cfg.DB.LogDetection(ctx, Audit(it.Source, it.Payload, res)); lerr != nil {
				log.Warnf("[batch] could not log detection for %s: %v", it.Source, lerr)
			}
		})
	}
	if err != nil {
		log.Warnf("[batch] %s: %v", it.Source, err)
		o.Err = err
		return o
	}
	log.Debugf("[batch] %s ingested by %s (%.3f)", it.Source, data.Metadata.Adapter, data.Metadata.Confidence)

	if cfg.DB != nil {
		withLock(dbMu, func() {
			o.RecordID, err = cfg.DB.SaveRecord(ctx, it.Source, it.Payload.Bytes(), data)
		})
		if err != nil {
			log.Warnf("[batch] could not store %s: %v", it.Source, err)
			o.Err = err
		}
	}
	return o
}

func withLock(mu *sync.Mutex, fn func()) {
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// Audit converts a detection result into a storage audit entry.
func Audit(source string, p *payload.Payload, res *registry.DetectionResult) storage.Detection {
	det := storage.Detection{
		Source:     source,
		Signature:  storage.Signature(p.Bytes()),
		BestMatch:  res.BestMatch,
		Candidates: len(res.ConfidenceScores),
		EarlyExit:  res.Performance.EarlyExitTriggered,
		CacheHit:   res.Performance.CacheHit,
		TimedOut:   res.Performance.TimedOut,
		ElapsedMs:  res.Performance.TotalTimeMs,
	}
	if top, ok := res.Top(); ok {
		det.TopScore = top.Score
	}
	return det
}
