package engine

import "fmt"

// UpToDateMessage is printed when a run changed nothing.
const UpToDateMessage = "Nothing has changed and your copy is up to date!"

// Summary counts what a run applied.
type Summary struct {
	AdditionsApplied int
	RemovalsApplied  int
}

// UpToDate reports whether the run neither added nor removed anything.
func (s Summary) UpToDate() bool {
	return s.AdditionsApplied == 0 && s.RemovalsApplied == 0
}

// String is the one-line summary shown at the end of a completed run.
func (s Summary) String() string {
	if s.UpToDate() {
		return UpToDateMessage
	}
	return fmt.Sprintf("New Titles: %d | Removed Titles: %d", s.AdditionsApplied, s.RemovalsApplied)
}

// HaltError stops a run when an addition fails. Nothing after the failing
// addition is attempted, removals included.
type HaltError struct {
	Release string
	// Index is the position of the failing release among the additions.
	Index int
	Err   error
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("sync halted at %q (addition %d): %v", e.Release, e.Index+1, e.Err)
}

func (e *HaltError) Unwrap() error {
	return e.Err
}
