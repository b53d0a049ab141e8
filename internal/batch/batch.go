// Package batch runs many independent units of work against a rate limited
// external service with bounded concurrency, retries and a resumable journal.
package batch

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/UnknownOlympus/meridian/internal/ratelimit"
)

// Defaults applied by New for zero config values.
const (
	DefaultConcurrencyLimit = 4
	DefaultBackoffBase      = 2.0
	DefaultBackoffUnit      = time.Second
)

// FailurePolicy tells the aggregation what to do with failed items.
type FailurePolicy int

const (
	// SkipFailed leaves failed items out of the aggregated output.
	SkipFailed FailurePolicy = iota
	// MarkFailed keeps failed items in the output with their error.
	MarkFailed
)

// Func is the unit of work. index is the position of payload in the input.
type Func[T, R any] func(ctx context.Context, index int, payload T) (R, error)

// Config controls a run.
type Config struct {
	ConcurrencyLimit int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries  int
	BackoffBase float64
	BackoffUnit time.Duration
	// Limiter, when set, is awaited before every attempt.
	Limiter       *ratelimit.Limiter
	Resume        bool
	FailurePolicy FailurePolicy
	// Retryable classifies errors. Nil retries every error not marked Permanent.
	Retryable  func(error) bool
	OnProgress func(Progress)
	// RunID tags journal records. New generates one when empty.
	RunID string
}

// Summary counts the final state of every input item.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Item is one aggregated output.
type Item[R any] struct {
	Index    int
	Output   R
	Failed   bool
	Error    string
	Attempts int
}

// Result is the outcome of Run ordered by input index.
type Result[R any] struct {
	RunID   string
	Items   []Item[R]
	Summary Summary
}

// Outputs returns the outputs of the successful items in input order.
func (r *Result[R]) Outputs() []R {
	out := make([]R, 0, len(r.Items))
	for _, it := range r.Items {
		if !it.Failed {
			out = append(out, it.Output)
		}
	}
	return out
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Backoff returns the delay before retry number attempt (1-based):
// base^(attempt-1) * unit.
func Backoff(base float64, attempt int, unit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(math.Pow(base, float64(attempt-1)) * float64(unit))
}
