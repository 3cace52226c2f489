package engine

import (
	"fmt"
	"io"

	"github.com/vrpsync/vrpsync/internal/catalog"
)

// Delta is the difference between the desired catalog and the remote listing,
// computed once before anything is changed.
type Delta struct {
	// Additions are catalog entries missing from the remote, in catalog order.
	Additions []catalog.Entry
	// Removals are remote names absent from the catalog, in listing order.
	Removals []string
}

// ComputeDelta diffs desired against actual by release name. The result is a
// snapshot: later changes to either input do not affect it.
func ComputeDelta(desired *catalog.Desired, actual []string) Delta {
	present := make(map[string]struct{}, len(actual))
	var removals []string
	for _, name := range actual {
		if _, dup := present[name]; dup {
			continue
		}
		present[name] = struct{}{}
		if !desired.Contains(name) {
			removals = append(removals, name)
		}
	}

	var additions []catalog.Entry
	for _, e := range desired.Entries() {
		if _, ok := present[e.ReleaseName]; !ok {
			additions = append(additions, e)
		}
	}

	return Delta{Additions: additions, Removals: removals}
}

// Empty reports whether there is nothing to do.
func (d Delta) Empty() bool {
	return len(d.Additions) == 0 && len(d.Removals) == 0
}

// Len is the number of planned operations.
func (d Delta) Len() int {
	return len(d.Additions) + len(d.Removals)
}

// WritePlan prints the delta as a plan, one operation per line.
func (d Delta) WritePlan(w io.Writer) {
	if d.Empty() {
		fmt.Fprintln(w, "Nothing to do.")
		return
	}
	for _, e := range d.Additions {
		fmt.Fprintf(w, "  + %s (%s)\n", e.ReleaseName, catalog.Digest(e.ReleaseName))
	}
	for _, name := range d.Removals {
		fmt.Fprintf(w, "  - %s\n", name)
	}
	fmt.Fprintf(w, "Plan: %d to add, %d to remove.\n", len(d.Additions), len(d.Removals))
}
