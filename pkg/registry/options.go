package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/ensemble"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/sigcache"
)

// DefaultEarlyExitThreshold stops scoring once a candidate reaches it.
const DefaultEarlyExitThreshold = 0.95

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// UnknownHandler turns a payload no adapter claimed into a fallback record.
// Installing one is an explicit opt-in; without it Ingest fails with
// *UnknownFormatError.
type UnknownHandler interface {
	ProcessUnknown(ctx context.Context, p *payload.Payload, res *DetectionResult) (*adapters.NormalizedData, error)
}

type UnknownHandlerFunc func(ctx context.Context, p *payload.Payload, res *DetectionResult) (*adapters.NormalizedData, error)

func (f UnknownHandlerFunc) ProcessUnknown(ctx context.Context, p *payload.Payload, res *DetectionResult) (*adapters.NormalizedData, error) {
	return f(ctx, p, res)
}

// Options configure a Registry. Start from DefaultOptions.
type Options struct {
	MatchThreshold     float64
	EarlyExitThreshold float64 // values above 1 disable early exit
	MaxDetectionTime   time.Duration
	Priority           []string // evaluated first, in this order
	Weights            ensemble.Weights

	SimpleDetection bool // Ingest resolves with DetectSimple instead of DetectFormat
	SkipValidation  bool

	CacheEnabled bool
	Cache        sigcache.Config

	Log            Logger         // optional; nil = no logging
	UnknownHandler UnknownHandler // optional
}

func DefaultOptions() Options {
	return Options{
		MatchThreshold:     ensemble.DefaultMatchThreshold,
		EarlyExitThreshold: DefaultEarlyExitThreshold,
		Weights:            ensemble.DefaultWeights(),
		CacheEnabled:       true,
		Cache:              sigcache.DefaultConfig(),
	}
}

func (o Options) validate() error {
	if o.MatchThreshold < 0 || o.MatchThreshold >= 1 {
		return fmt.Errorf("match threshold %.2f outside [0,1)", o.MatchThreshold)
	}
	if o.EarlyExitThreshold <= 0 {
		return fmt.Errorf("early exit threshold must be positive, got %.2f", o.EarlyExitThreshold)
	}
	if o.MaxDetectionTime < 0 {
		return fmt.Errorf("negative max detection time %s", o.MaxDetectionTime)
	}
	return o.Weights.Validate()
}

// DetectOption adjusts a single detection call.
type DetectOption func(*detectConfig)

type detectConfig struct {
	maxTime     time.Duration
	bypassCache bool
}

// WithMaxDetectionTime bounds the scoring loop. Zero means unbounded.
func WithMaxDetectionTime(d time.Duration) DetectOption {
	return func(c *detectConfig) { c.maxTime = d }
}

// WithoutCache skips both the cache lookup and the cache fill.
func WithoutCache() DetectOption {
	return func(c *detectConfig) { c.bypassCache = true }
}
