package batch

import (
	"fmt"
	"sync"
)

// State is the lifecycle position of one item.
type State int

const (
	Pending State = iota
	InFlight
	Retrying
	Succeeded
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case Retrying:
		return "retrying"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// canTransition encodes pending -> inFlight -> (retrying -> inFlight)* -> succeeded|failed.
// Resumed items go straight from pending to skipped. An interrupted item may
// return to pending.
func canTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == InFlight || to == Skipped
	case InFlight:
		return to == Retrying || to == Succeeded || to == Failed || to == Pending
	case Retrying:
		return to == InFlight || to == Pending
	case Succeeded, Failed, Skipped:
		return false
	default:
		return false
	}
}

// Progress is a snapshot of item counts per state.
type Progress struct {
	Total     int
	Pending   int
	InFlight  int
	Retrying  int
	Succeeded int
	Failed    int
	Skipped   int
}

// Done counts items in a final state.
func (p Progress) Done() int { return p.Succeeded + p.Failed + p.Skipped }

// tracker owns the state of every item of a run.
type tracker struct {
	mu         sync.Mutex
	states     []State
	counts     map[State]int
	onProgress func(Progress)
}

func newTracker(total int, onProgress func(Progress)) *tracker {
	return &tracker{
		states:     make([]State, total),
		counts:     map[State]int{Pending: total},
		onProgress: onProgress,
	}
}

func (t *tracker) move(index int, to State) error {
	t.mu.Lock()
	from := t.states[index]
	if !canTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("item %d: invalid transition %s -> %s", index, from, to)
	}
	t.states[index] = to
	t.counts[from]--
	t.counts[to]++
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if t.onProgress != nil {
		t.onProgress(snap)
	}
	return nil
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *tracker) snapshotLocked() Progress {
	return Progress{
		Total:     len(t.states),
		Pending:   t.counts[Pending],
		InFlight:  t.counts[InFlight],
		Retrying:  t.counts[Retrying],
		Succeeded: t.counts[Succeeded],
		Failed:    t.counts[Failed],
		Skipped:   t.counts[Skipped],
	}
}
