package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UnknownOlympus/meridian/internal/batch"
	"github.com/UnknownOlympus/meridian/internal/metrics"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky upstream")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func fastConfig() batch.Config {
	return batch.Config{
		ConcurrencyLimit: 2,
		MaxRetries:       2,
		BackoffBase:      2,
		BackoffUnit:      time.Millisecond,
	}
}

func double(_ context.Context, _ int, n int) (int, error) { return n * 2, nil }

func successRecord(t *testing.T, idx int, output any) batch.Record {
	t.Helper()
	raw, err := json.Marshal(output)
	require.NoError(t, err)
	return batch.Record{Index: idx, Status: batch.RecordSuccess, Output: raw, Attempts: 1, RunID: "previous"}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, batch.Backoff(2, 1, time.Second))
	assert.Equal(t, 2*time.Second, batch.Backoff(2, 2, time.Second))
	assert.Equal(t, 4*time.Second, batch.Backoff(2, 3, time.Second))
	assert.Equal(t, 9*time.Millisecond, batch.Backoff(3, 3, time.Millisecond))
	assert.Equal(t, time.Second, batch.Backoff(2, 0, time.Second), "attempt is clamped to 1")
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, batch.Permanent(nil))

	err := fmt.Errorf("wrapped: %w", batch.Permanent(errFlaky))

	assert.True(t, batch.IsPermanent(err))
	require.ErrorIs(t, err, errFlaky)
	assert.False(t, batch.IsPermanent(errFlaky))
}

func TestRun_Resume(t *testing.T) {
	journal := batch.NewMemoryJournal(
		successRecord(t, 0, 100),
		successRecord(t, 1, 101),
		successRecord(t, 3, 103),
	)
	cfg := fastConfig()
	cfg.Resume = true
	orch := batch.New[int, int](cfg, journal, testLogger(), nil)

	var mu sync.Mutex
	var called []int
	fn := func(_ context.Context, idx int, n int) (int, error) {
		mu.Lock()
		called = append(called, idx)
		mu.Unlock()
		return n * 2, nil
	}

	res, err := orch.Run(t.Context(), []int{0, 1, 2, 3, 4}, fn)

	require.NoError(t, err)
	assert.ElementsMatch(t, []int{2, 4}, called)
	if diff := cmp.Diff([]int{100, 101, 4, 103, 8}, res.Outputs()); diff != "" {
		t.Errorf("Outputs() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, batch.Summary{Total: 5, Succeeded: 2, Skipped: 3, Failed: 0}, res.Summary)
}

func TestRun_WithoutResumeIgnoresOldRecords(t *testing.T) {
	journal := batch.NewMemoryJournal(successRecord(t, 0, 999))
	orch := batch.New[int, int](fastConfig(), journal, testLogger(), nil)

	res, err := orch.Run(t.Context(), []int{1, 2}, double)

	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, res.Outputs())
	assert.Equal(t, 0, res.Summary.Skipped)
}

func TestRun_ConcurrencyBound(t *testing.T) {
	cfg := fastConfig()
	cfg.ConcurrencyLimit = 3
	orch := batch.New[int, int](cfg, batch.NewMemoryJournal(), testLogger(), nil)

	var inFlight, peak atomic.Int32
	fn := func(_ context.Context, _ int, n int) (int, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return n, nil
	}

	payloads := make([]int, 10)
	for i := range payloads {
		payloads[i] = i
	}
	res, err := orch.Run(t.Context(), payloads, fn)

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, payloads, res.Outputs(), "outputs keep input order")
}

func TestRun_Retries(t *testing.T) {
	t.Run("transient failures are retried", func(t *testing.T) {
		m := metrics.NewMetrics(prometheus.NewRegistry())
		orch := batch.New[int, int](fastConfig(), batch.NewMemoryJournal(), testLogger(), m)

		var calls atomic.Int32
		fn := func(_ context.Context, _ int, n int) (int, error) {
			if calls.Add(1) < 3 {
				return 0, errFlaky
			}
			return n, nil
		}

		res, err := orch.Run(t.Context(), []int{7}, fn)

		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.Equal(t, 3, res.Items[0].Attempts)
		assert.InDelta(t, 2, testutil.ToFloat64(m.Retries), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(m.ItemsProcessed.WithLabelValues("success")), 0)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		orch := batch.New[int, int](fastConfig(), batch.NewMemoryJournal(), testLogger(), nil)

		var calls atomic.Int32
		fn := func(_ context.Context, _ int, _ int) (int, error) {
			calls.Add(1)
			return 0, batch.Permanent(errFlaky)
		}

		res, err := orch.Run(t.Context(), []int{1}, fn)

		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, res.Summary.Failed)
	})

	t.Run("classifier rejects an error", func(t *testing.T) {
		cfg := fastConfig()
		cfg.Retryable = func(err error) bool { return !errors.Is(err, errFlaky) }
		orch := batch.New[int, int](cfg, batch.NewMemoryJournal(), testLogger(), nil)

		var calls atomic.Int32
		fn := func(_ context.Context, _ int, _ int) (int, error) {
			calls.Add(1)
			return 0, errFlaky
		}

		_, err := orch.Run(t.Context(), []int{1}, fn)

		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestRun_FailurePolicy(t *testing.T) {
	fn := func(_ context.Context, idx int, n int) (int, error) {
		if idx == 1 {
			return 0, errFlaky
		}
		return n, nil
	}

	t.Run("skip failed", func(t *testing.T) {
		journal := batch.NewMemoryJournal()
		orch := batch.New[int, int](fastConfig(), journal, testLogger(), nil)

		res, err := orch.Run(t.Context(), []int{10, 11, 12}, fn)

		require.NoError(t, err)
		assert.Equal(t, []int{10, 12}, res.Outputs())
		assert.Len(t, res.Items, 2)
		assert.Equal(t, batch.Summary{Total: 3, Succeeded: 2, Failed: 1}, res.Summary)

		records, err := journal.Load(t.Context())
		require.NoError(t, err)
		var failed []batch.Record
		for _, rec := range records {
			if rec.Status == batch.RecordFailed {
				failed = append(failed, rec)
			}
		}
		require.Len(t, failed, 1)
		assert.Equal(t, 1, failed[0].Index)
		assert.Equal(t, 3, failed[0].Attempts)
		assert.Contains(t, failed[0].Error, "flaky upstream")
		assert.Equal(t, orch.RunID(), failed[0].RunID)
	})

	t.Run("mark failed", func(t *testing.T) {
		cfg := fastConfig()
		cfg.FailurePolicy = batch.MarkFailed
		orch := batch.New[int, int](cfg, batch.NewMemoryJournal(), testLogger(), nil)

		res, err := orch.Run(t.Context(), []int{10, 11, 12}, fn)

		require.NoError(t, err)
		require.Len(t, res.Items, 3)
		assert.True(t, res.Items[1].Failed)
		assert.Contains(t, res.Items[1].Error, "flaky upstream")
		assert.Equal(t, []int{10, 12}, res.Outputs())
	})

	t.Run("resumed success wins over an earlier failure", func(t *testing.T) {
		failed := batch.Record{Index: 0, Status: batch.RecordFailed, Error: "boom", RunID: "a"}
		journal := batch.NewMemoryJournal(failed, successRecord(t, 0, 5))
		cfg := fastConfig()
		cfg.Resume = true
		cfg.FailurePolicy = batch.MarkFailed
		orch := batch.New[int, int](cfg, journal, testLogger(), nil)

		res, err := orch.Run(t.Context(), []int{0}, double)

		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.False(t, res.Items[0].Failed)
		assert.Equal(t, 5, res.Items[0].Output)
	})
}

type brokenJournal struct {
	batch.MemoryJournal
}

func (*brokenJournal) Append(context.Context, batch.Record) error { return assert.AnError }

func TestRun_Fatal(t *testing.T) {
	t.Run("journal append failure aborts the batch", func(t *testing.T) {
		orch := batch.New[int, int](fastConfig(), &brokenJournal{}, testLogger(), nil)

		res, err := orch.Run(t.Context(), []int{1, 2, 3}, double)

		require.ErrorIs(t, err, assert.AnError)
		assert.Nil(t, res)
	})

	t.Run("missing journal", func(t *testing.T) {
		orch := batch.New[int, int](fastConfig(), nil, testLogger(), nil)

		_, err := orch.Run(t.Context(), []int{1}, double)

		require.ErrorIs(t, err, batch.ErrNoJournal)
	})
}

func TestRun_Cancellation(t *testing.T) {
	journal := batch.NewMemoryJournal()
	cfg := fastConfig()
	cfg.ConcurrencyLimit = 1
	cfg.Resume = true

	ctx, cancel := context.WithCancel(t.Context())
	fn := func(ctx context.Context, idx int, n int) (int, error) {
		if idx == 2 {
			cancel()
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return n, nil
	}

	res, err := batch.New[int, int](cfg, journal, testLogger(), nil).Run(ctx, []int{0, 1, 2, 3}, fn)

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, []int{0, 1}, res.Outputs())

	records, err := journal.Load(t.Context())
	require.NoError(t, err)
	assert.Len(t, records, 2, "interrupted items are not journaled")

	res, err = batch.New[int, int](cfg, journal, testLogger(), nil).Run(t.Context(), []int{0, 1, 2, 3}, double)

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 6}, res.Outputs())
	assert.Equal(t, 2, res.Summary.Skipped)
}

func TestRun_Progress(t *testing.T) {
	cfg := fastConfig()
	var mu sync.Mutex
	var last batch.Progress
	var sawInFlight bool
	cfg.OnProgress = func(p batch.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.InFlight > 0 {
			sawInFlight = true
		}
		if p.Done() >= last.Done() {
			last = p
		}
	}
	orch := batch.New[int, int](cfg, batch.NewMemoryJournal(), testLogger(), nil)

	_, err := orch.Run(t.Context(), []int{1, 2, 3, 4}, double)

	require.NoError(t, err)
	assert.True(t, sawInFlight)
	assert.Equal(t, 4, last.Done())
	assert.Equal(t, 4, last.Succeeded)
	assert.Zero(t, last.Pending)
}
