package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qarbon/qingest/pkg/payload"
)

var (
	ErrUnknownFormat = errors.New("unknown format")
	ErrAdapterIngest = errors.New("adapter ingest failed")
	ErrValidation    = errors.New("validation failed")
	ErrTimeout       = errors.New("detection timed out")
)

// UnknownFormatError means no adapter cleared the match threshold or the
// registry was empty. Result holds the score table when detection ran.
type UnknownFormatError struct {
	Result *DetectionResult
}

func (e *UnknownFormatError) Error() string {
	top, ok := e.Result.Top()
	if !ok {
		return "unknown format: no adapters evaluated"
	}
	return fmt.Sprintf("unknown format: best candidate %s scored %.2f", top.AdapterName, top.Score)
}

func (e *UnknownFormatError) Is(target error) bool { return target == ErrUnknownFormat }

// AdapterIngestError wraps a failure of the winning adapter's Ingest. The
// payload is kept for inspection.
type AdapterIngestError struct {
	Adapter string
	Payload *payload.Payload
	Err     error
}

func (e *AdapterIngestError) Error() string {
	return fmt.Sprintf("adapter %s: ingest failed: %v", e.Adapter, e.Err)
}

func (e *AdapterIngestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AdapterIngestError) Is(target error) bool { return target == ErrAdapterIngest }

// ValidationError carries the errors reported by an adapter's Validate.
type ValidationError struct {
	Adapter  string
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("adapter %s: validation failed: %s", e.Adapter, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TimeoutError is returned by Ingest when detection hit its time limit before
// any adapter cleared the threshold.
type TimeoutError struct {
	Elapsed time.Duration
	Limit   time.Duration
	Result  *DetectionResult
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("detection timed out after %s (limit %s)", e.Elapsed.Round(time.Microsecond), e.Limit)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
