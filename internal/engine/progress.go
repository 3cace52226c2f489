package engine

import (
	"fmt"
	"sync"
	"time"
)

// RunPhase is the state of a reconciliation run.
type RunPhase string

const (
	PhasePlanned   RunPhase = "planned"
	PhaseExecuting RunPhase = "executing"
	PhaseDone      RunPhase = "done"
	PhaseHalted    RunPhase = "halted"
)

// RunProgress is a snapshot of a run's state.
type RunProgress struct {
	Phase            RunPhase
	Current          string
	AdditionsPlanned int
	RemovalsPlanned  int
	AdditionsApplied int
	RemovalsApplied  int
	StartTime        time.Time
	Elapsed          time.Duration
}

// RunTracker follows a run through its phases. Runs move forward only:
// planned, then executing, then done or halted.
type RunTracker struct {
	mu sync.Mutex

	phase            RunPhase
	current          string
	additionsPlanned int
	removalsPlanned  int
	additionsApplied int
	removalsApplied  int
	startTime        time.Time
}

// NewRunTracker starts a tracker in the planned phase for delta.
func NewRunTracker(delta Delta) *RunTracker {
	return &RunTracker{
		phase:            PhasePlanned,
		additionsPlanned: len(delta.Additions),
		removalsPlanned:  len(delta.Removals),
		startTime:        time.Now(),
	}
}

// Phase returns the current phase.
func (t *RunTracker) Phase() RunPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Snapshot returns a copy of the current state.
func (t *RunTracker) Snapshot() RunProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RunProgress{
		Phase:            t.phase,
		Current:          t.current,
		AdditionsPlanned: t.additionsPlanned,
		RemovalsPlanned:  t.removalsPlanned,
		AdditionsApplied: t.additionsApplied,
		RemovalsApplied:  t.removalsApplied,
		StartTime:        t.startTime,
		Elapsed:          time.Since(t.startTime),
	}
}

func (t *RunTracker) transition(to RunPhase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ok := false
	switch t.phase {
	case PhasePlanned:
		ok = to == PhaseExecuting
	case PhaseExecuting:
		ok = to == PhaseDone || to == PhaseHalted
	}
	if !ok {
		return fmt.Errorf("invalid run transition %s -> %s", t.phase, to)
	}
	t.phase = to
	if to != PhaseExecuting {
		t.current = ""
	}
	return nil
}

func (t *RunTracker) setCurrent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = name
}

func (t *RunTracker) addApplied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.additionsApplied++
}

func (t *RunTracker) removalApplied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removalsApplied++
}

func (t *RunTracker) summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summary{AdditionsApplied: t.additionsApplied, RemovalsApplied: t.removalsApplied}
}
