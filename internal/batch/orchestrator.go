package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/meridian/internal/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// ErrNoJournal is returned by Run when the orchestrator has no journal.
var ErrNoJournal = errors.New("batch journal is not configured")

// Orchestrator executes a Func over a list of payloads.
type Orchestrator[T, R any] struct {
	cfg     Config
	journal Journal
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates an orchestrator. Zero config values get the package defaults and
// a nil metrics value registers the collectors on a private registry.
func New[T, R any](cfg Config, journal Journal, log *slog.Logger, metrics *metrics.Metrics) *Orchestrator[T, R] {
	if cfg.ConcurrencyLimit < 1 {
		cfg.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = DefaultBackoffUnit
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if metrics == nil {
		metrics = newDiscardMetrics()
	}

	return &Orchestrator[T, R]{
		cfg:     cfg,
		journal: journal,
		log:     log.With("run_id", cfg.RunID),
		metrics: metrics,
	}
}

// RunID identifies the records this orchestrator writes.
func (o *Orchestrator[T, R]) RunID() string { return o.cfg.RunID }

// Run processes every payload not already journaled as successful (when
// resuming) and returns the aggregated outputs in input order. Failed items
// never abort the run. A journal write failure does, and is returned. When ctx
// ends, dispatch stops, interrupted items are left unjournaled and the partial
// result is returned together with the context error.
func (o *Orchestrator[T, R]) Run(ctx context.Context, payloads []T, fn Func[T, R]) (*Result[R], error) {
	if o.journal == nil {
		return nil, ErrNoJournal
	}

	total := len(payloads)
	done, err := o.completed(ctx, total)
	if err != nil {
		return nil, err
	}

	track := newTracker(total, o.cfg.OnProgress)
	pending := make([]int, 0, total)
	for i := range payloads {
		if _, ok := done[i]; ok {
			o.move(ctx, track, i, Skipped)
			continue
		}
		pending = append(pending, i)
	}

	o.log.InfoContext(ctx, "Starting batch",
		"total", total,
		"pending", len(pending),
		"skipped", len(done),
		"num_workers", o.cfg.ConcurrencyLimit,
	)

	jobs := make(chan int)
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(jobs)
		for _, idx := range pending {
			select {
			case jobs <- idx:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 1; w <= min(o.cfg.ConcurrencyLimit, len(pending)); w++ {
		group.Go(func() error {
			for idx := range jobs {
				if gctx.Err() != nil {
					return nil
				}
				if err := o.process(gctx, track, idx, payloads[idx], fn); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err = group.Wait(); err != nil {
		o.log.ErrorContext(ctx, "Batch aborted", "error", err)
		return nil, err
	}

	result, err := o.aggregate(context.WithoutCancel(ctx), total, track.snapshot())
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		o.log.WarnContext(ctx, "Batch interrupted", "summary", result.Summary)
		return result, fmt.Errorf("batch interrupted: %w", ctx.Err())
	}

	o.log.InfoContext(ctx, "Batch finished",
		"succeeded", result.Summary.Succeeded,
		"skipped", result.Summary.Skipped,
		"failed", result.Summary.Failed,
	)
	return result, nil
}

// completed returns the indices journaled as successful, when resuming.
func (o *Orchestrator[T, R]) completed(ctx context.Context, total int) (map[int]struct{}, error) {
	done := make(map[int]struct{})
	if !o.cfg.Resume {
		return done, nil
	}

	records, err := o.journal.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}
	for _, rec := range records {
		if rec.Status == RecordSuccess && rec.Index >= 0 && rec.Index < total {
			done[rec.Index] = struct{}{}
		}
	}
	return done, nil
}

// process runs the attempts of one item. Only a journal failure is returned.
func (o *Orchestrator[T, R]) process(ctx context.Context, track *tracker, idx int, payload T, fn Func[T, R]) error {
	attempts := o.cfg.MaxRetries + 1

	var lastErr error
	attempt := 1
	for ; attempt <= attempts; attempt++ {
		o.move(ctx, track, idx, InFlight)

		if err := o.cfg.Limiter.Acquire(ctx); err != nil {
			o.interrupt(ctx, track, idx)
			return nil
		}

		o.metrics.ActiveWorkers.Inc()
		out, err := fn(ctx, idx, payload)
		o.metrics.ActiveWorkers.Dec()

		if err == nil {
			return o.succeed(ctx, track, idx, out, attempt)
		}
		if ctx.Err() != nil {
			o.interrupt(ctx, track, idx)
			return nil
		}

		lastErr = err
		if attempt == attempts || !o.retryable(err) {
			break
		}

		delay := Backoff(o.cfg.BackoffBase, attempt, o.cfg.BackoffUnit)
		o.move(ctx, track, idx, Retrying)
		o.metrics.Retries.Inc()
		o.log.WarnContext(ctx, "Retrying item",
			"item", idx, "attempt", attempt, "max_attempts", attempts, "backoff", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			o.interrupt(ctx, track, idx)
			return nil
		}
	}

	return o.fail(ctx, track, idx, lastErr, min(attempt, attempts))
}

func (o *Orchestrator[T, R]) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if o.cfg.Retryable == nil {
		return true
	}
	return o.cfg.Retryable(err)
}

func (o *Orchestrator[T, R]) succeed(ctx context.Context, track *tracker, idx int, out R, attempts int) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return o.fail(ctx, track, idx, fmt.Errorf("failed to encode output: %w", err), attempts)
	}

	rec := Record{
		Index:      idx,
		Status:     RecordSuccess,
		Output:     raw,
		Attempts:   attempts,
		RunID:      o.cfg.RunID,
		FinishedAt: time.Now().UTC(),
	}
	if err = o.journal.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to journal item %d: %w", idx, err)
	}

	o.move(ctx, track, idx, Succeeded)
	o.metrics.ItemsProcessed.WithLabelValues("success").Inc()
	o.log.DebugContext(ctx, "Item succeeded", "item", idx, "attempts", attempts)
	return nil
}

func (o *Orchestrator[T, R]) fail(ctx context.Context, track *tracker, idx int, cause error, attempts int) error {
	rec := Record{
		Index:      idx,
		Status:     RecordFailed,
		Error:      cause.Error(),
		Attempts:   attempts,
		RunID:      o.cfg.RunID,
		FinishedAt: time.Now().UTC(),
	}
	if err := o.journal.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to journal item %d: %w", idx, err)
	}

	o.move(ctx, track, idx, Failed)
	o.metrics.ItemsProcessed.WithLabelValues("failure").Inc()
	o.log.ErrorContext(ctx, "Item failed", "item", idx, "attempts", attempts, "error", cause)
	return nil
}

func (o *Orchestrator[T, R]) interrupt(ctx context.Context, track *tracker, idx int) {
	o.move(ctx, track, idx, Pending)
	o.log.DebugContext(ctx, "Item interrupted", "item", idx, "error", context.Cause(ctx))
}

func (o *Orchestrator[T, R]) move(ctx context.Context, track *tracker, idx int, to State) {
	if err := track.move(idx, to); err != nil {
		o.log.ErrorContext(ctx, "Unexpected item state", "error", err)
	}
}

// aggregate folds the journal by index. A success wins over any failure.
// Records of earlier runs count only when resuming.
func (o *Orchestrator[T, R]) aggregate(ctx context.Context, total int, progress Progress) (*Result[R], error) {
	records, err := o.journal.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}

	byIndex := make(map[int]Record, len(records))
	for _, rec := range records {
		if rec.Index < 0 || rec.Index >= total {
			continue
		}
		if !o.cfg.Resume && rec.RunID != o.cfg.RunID {
			continue
		}
		if prev, ok := byIndex[rec.Index]; ok && prev.Status == RecordSuccess {
			continue
		}
		byIndex[rec.Index] = rec
	}

	result := &Result[R]{
		RunID: o.cfg.RunID,
		Summary: Summary{
			Total:     total,
			Succeeded: progress.Succeeded,
			Skipped:   progress.Skipped,
			Failed:    progress.Failed,
		},
	}

	for idx := range total {
		rec, ok := byIndex[idx]
		if !ok {
			continue
		}

		item := Item[R]{Index: idx, Attempts: rec.Attempts}
		if rec.Status == RecordSuccess {
			if err = json.Unmarshal(rec.Output, &item.Output); err == nil {
				result.Items = append(result.Items, item)
				continue
			}
			rec.Error = fmt.Sprintf("failed to decode journaled output: %v", err)
		}

		if o.cfg.FailurePolicy == MarkFailed {
			item.Failed = true
			item.Error = rec.Error
			result.Items = append(result.Items, item)
		}
	}

	return result, nil
}

func newDiscardMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}
