// Package registry owns a set of format adapters and resolves payloads to the
// adapter best able to parse them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/ensemble"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/sigcache"
)

type entry struct {
	adapter adapters.Adapter
	desc    adapters.Descriptor
	ref     ensemble.Vector
	seq     int
}

// Registry is safe for concurrent use. Any registration change purges the
// signature cache, so cached tables always describe the current adapter set.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	nextSeq int
	gen     uint64

	opts  Options
	cache *sigcache.Cache[cachedResult]
	log   Logger
}

func New(opts Options) (*Registry, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		entries: make(map[string]*entry),
		opts:    opts,
		log:     opts.Log,
	}
	if r.log == nil {
		r.log = nopLogger{}
	}
	if opts.CacheEnabled {
		r.cache = sigcache.New[cachedResult](opts.Cache)
	}
	return r, nil
}

// NewDefault returns a registry with DefaultOptions.
func NewDefault() *Registry {
	r, err := New(DefaultOptions())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Options() Options { return r.opts }

// Register adds a under its descriptor name.
func (r *Registry) Register(a adapters.Adapter) error {
	if a == nil {
		return errors.New("nil adapter")
	}
	return r.RegisterAs(a.Descriptor().Name, a)
}

// RegisterAs adds a under name. Registering an existing name replaces the
// adapter wholesale but keeps its original position in the evaluation order.
func (r *Registry) RegisterAs(name string, a adapters.Adapter) error {
	if a == nil {
		return errors.New("nil adapter")
	}
	desc := a.Descriptor()
	desc.Name = name
	if err := desc.Validate(); err != nil {
		return err
	}
	e := &entry{adapter: a, desc: desc, ref: ensemble.Reference(desc)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[name]; ok {
		e.seq = old.seq
		r.log.Debugf("[registry] replacing adapter %s (%s -> %s)", name, old.desc.Version, desc.Version)
	} else {
		e.seq = r.nextSeq
		r.nextSeq++
		r.order = append(r.order, name)
		r.log.Debugf("[registry] registered adapter %s %s", name, desc.Version)
	}
	r.entries[name] = e
	r.changedLocked()
	return nil
}

// Unregister removes name and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.changedLocked()
	r.log.Debugf("[registry] unregistered adapter %s", name)
	return true
}

func (r *Registry) changedLocked() {
	r.gen++
	if r.cache != nil {
		r.cache.Purge()
	}
}

// List returns descriptors in registration order.
func (r *Registry) List() []adapters.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adapters.Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.entries[n].desc)
	}
	return out
}

func (r *Registry) Get(name string) (adapters.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.adapter, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// CacheStats reports signature cache counters; zero when caching is off.
func (r *Registry) CacheStats() sigcache.Stats {
	if r.cache == nil {
		return sigcache.Stats{}
	}
	return r.cache.Stats()
}

// candidates snapshots the adapters in evaluation order: configured priority
// names first, then the rest in registration order.
func (r *Registry) candidates() ([]ensemble.Candidate, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ensemble.Candidate, 0, len(r.order))
	seen := make(map[string]bool, len(r.opts.Priority))
	add := func(name string) {
		e, ok := r.entries[name]
		if !ok || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, ensemble.Candidate{Name: name, Adapter: e.adapter, Reference: e.ref, Seq: e.seq})
	}
	for _, n := range r.opts.Priority {
		add(n)
	}
	for _, n := range r.order {
		add(n)
	}
	return out, r.gen
}

// DetectSimple returns the first adapter, in registration order, whose Detect
// accepts p. It does not score or rank. Empty means no adapter matched.
func (r *Registry) DetectSimple(p *payload.Payload) string {
	r.mu.RLock()
	type named struct {
		name string
		a    adapters.Adapter
	}
	list := make([]named, 0, len(r.order))
	for _, n := range r.order {
		list = append(list, named{n, r.entries[n].adapter})
	}
	r.mu.RUnlock()

	for _, c := range list {
		if r.safeDetect(c.name, c.a, p) {
			return c.name
		}
	}
	return ""
}

// DetectFormat ranks every registered adapter against p.
func (r *Registry) DetectFormat(ctx context.Context, p *payload.Payload, opts ...DetectOption) *DetectionResult {
	start := time.Now()
	cfg := detectConfig{maxTime: r.opts.MaxDetectionTime}
	for _, o := range opts {
		o(&cfg)
	}

	cands, gen := r.candidates()
	if len(cands) == 0 {
		return &DetectionResult{
			ConfidenceScores: []adapters.FormatConfidence{},
			Performance:      Performance{TotalTimeMs: elapsedMs(start)},
		}
	}

	useCache := r.cache != nil && !cfg.bypassCache
	if useCache {
		if e, ok := r.cache.Get(p.Bytes()); ok {
			res := e.Result.result()
			res.Performance.TotalTimeMs = elapsedMs(start)
			r.log.Debugf("[registry] cache hit %.12s -> %q", e.Signature, res.BestMatch)
			return res
		}
	}

	sig := ensemble.Prepare(p)
	scored := make([]ensemble.Scored, 0, len(cands))
	var earlyExit, timedOut bool
	for i, c := range cands {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				r.log.Debugf("[registry] detection cancelled after %d adapters: %v", i, err)
				timedOut = true
				break
			}
			if cfg.maxTime > 0 && time.Since(start) >= cfg.maxTime {
				r.log.Warnf("[registry] detection exceeded %s after %d of %d adapters", cfg.maxTime, i, len(cands))
				timedOut = true
				break
			}
		}
		s := r.score(c, p, sig)
		scored = append(scored, s)
		if s.Score >= r.opts.EarlyExitThreshold {
			r.log.Debugf("[registry] early exit on %s (%.3f)", c.Name, s.Score)
			earlyExit = true
			break
		}
	}

	ranked := ensemble.Rank(scored)
	res := &DetectionResult{
		BestMatch:        ensemble.Best(ranked, r.opts.MatchThreshold),
		ConfidenceScores: ranked,
		Performance: Performance{
			EarlyExitTriggered: earlyExit,
			TimedOut:           timedOut,
		},
	}

	if useCache && !timedOut {
		r.store(p, gen, res)
	}
	res.Performance.TotalTimeMs = elapsedMs(start)
	return res
}

// store caches res unless the adapter set changed while it was computed.
func (r *Registry) store(p *payload.Payload, gen uint64, res *DetectionResult) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if gen != r.gen {
		return
	}
	var top float64
	if len(res.ConfidenceScores) > 0 {
		top = res.ConfidenceScores[0].Score
	}
	r.cache.Set(p.Bytes(), cachedResult{
		bestMatch: res.BestMatch,
		scores:    cloneScores(res.ConfidenceScores),
		earlyExit: res.Performance.EarlyExitTriggered,
	}, top)
}

func (r *Registry) score(c ensemble.Candidate, p *payload.Payload, sig ensemble.Signals) (s ensemble.Scored) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("[registry] adapter %s panicked during detection: %v", c.Name, rec)
			s = ensemble.Scored{
				FormatConfidence: adapters.FormatConfidence{
					AdapterName: c.Name,
					Evidence:    []string{fmt.Sprintf("adapter failed during detection: %v", rec)},
				},
				Seq: c.Seq,
			}
		}
	}()
	return r.opts.Weights.Score(c, p, sig)
}

func (r *Registry) safeDetect(name string, a adapters.Adapter, p *payload.Payload) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("[registry] adapter %s panicked in Detect: %v", name, rec)
			ok = false
		}
	}()
	return a.Detect(p)
}

func (r *Registry) safeIngest(name string, a adapters.Adapter, p *payload.Payload) (data *adapters.NormalizedData, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("[registry] adapter %s panicked in Ingest: %v", name, rec)
			data, err = nil, fmt.Errorf("adapter panicked: %v", rec)
		}
	}()
	return a.Ingest(p)
}

// safeValidate turns a panicking Validate into a failed result.
func (r *Registry) safeValidate(name string, a adapters.Adapter, p *payload.Payload) (v adapters.ValidationResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("[registry] adapter %s panicked in Validate: %v", name, rec)
			v = adapters.Invalid(fmt.Sprintf("adapter panicked: %v", rec))
		}
	}()
	return a.Validate(p)
}

// Ingest resolves p to an adapter and returns its normalized record.
func (r *Registry) Ingest(ctx context.Context, p *payload.Payload, opts ...DetectOption) (*adapters.NormalizedData, error) {
	data, _, err := r.IngestDetailed(ctx, p, opts...)
	return data, err
}

// IngestDetailed is Ingest that also returns the detection result it resolved
// the adapter from. The result is nil under SimpleDetection.
func (r *Registry) IngestDetailed(ctx context.Context, p *payload.Payload, opts ...DetectOption) (*adapters.NormalizedData, *DetectionResult, error) {
	start := time.Now()
	var (
		name       string
		confidence float64
		res        *DetectionResult
	)
	if r.opts.SimpleDetection {
		name = r.DetectSimple(p)
	} else {
		res = r.DetectFormat(ctx, p, opts...)
		name = res.BestMatch
		if top, ok := res.Top(); ok {
			confidence = top.Score
		}
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if name == "" || !ok {
		data, err := r.unknown(ctx, p, res, start, opts)
		return data, res, err
	}
	if r.opts.SimpleDetection {
		confidence = e.desc.DeclaredConfidence
	}

	if !r.opts.SkipValidation {
		v := r.safeValidate(name, e.adapter, p)
		if !v.IsValid {
			return nil, res, &ValidationError{Adapter: name, Errors: v.Errors, Warnings: v.Warnings}
		}
		for _, w := range v.Warnings {
			r.log.Debugf("[registry] %s validation warning: %s", name, w)
		}
	}

	data, err := r.safeIngest(name, e.adapter, p)
	if err != nil {
		return nil, res, &AdapterIngestError{Adapter: name, Payload: p, Err: err}
	}
	if data == nil {
		return nil, res, &AdapterIngestError{Adapter: name, Payload: p, Err: errors.New("adapter returned no record")}
	}
	data.Metadata = adapters.Metadata{
		Adapter:        name,
		AdapterVersion: e.desc.Version,
		Confidence:     adapters.Clamp(confidence),
	}
	return data, res, nil
}

func (r *Registry) unknown(ctx context.Context, p *payload.Payload, res *DetectionResult, start time.Time, opts []DetectOption) (*adapters.NormalizedData, error) {
	if h := r.opts.UnknownHandler; h != nil {
		r.log.Debugf("[registry] no adapter matched, using fallback handler")
		return h.ProcessUnknown(ctx, p, res)
	}
	if res != nil && res.Performance.TimedOut {
		cfg := detectConfig{maxTime: r.opts.MaxDetectionTime}
		for _, o := range opts {
			o(&cfg)
		}
		return nil, &TimeoutError{Elapsed: time.Since(start), Limit: cfg.maxTime, Result: res}
	}
	if res == nil {
		res = &DetectionResult{ConfidenceScores: []adapters.FormatConfidence{}}
	}
	return nil, &UnknownFormatError{Result: res}
}
