// Package catalog models the authoritative list of releases that should exist
// at the remote destination, and loads it from the upstream manifest and game list.
package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Entry is one release in the catalog. ReleaseName is its identity.
type Entry struct {
	ReleaseName string
	Attributes  map[string]string
}

// Desired is the ordered set of catalog entries for a run. Order is the
// order of the catalog file; names are unique.
type Desired struct {
	entries []Entry
	index   map[string]int
}

// NewDesired builds a Desired set from entries in catalog order. Duplicate and
// empty names are data-quality defects in the catalog: the first occurrence
// wins and the rest are logged and dropped.
func NewDesired(entries []Entry, logger *slog.Logger) *Desired {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Desired{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.ReleaseName == "" {
			continue
		}
		if _, dup := d.index[e.ReleaseName]; dup {
			logger.Warn("duplicate release in catalog, keeping first occurrence", "release", e.ReleaseName)
			continue
		}
		d.index[e.ReleaseName] = len(d.entries)
		d.entries = append(d.entries, e)
	}
	return d
}

// Entries returns the entries in catalog order. Callers must not modify the result.
func (d *Desired) Entries() []Entry {
	return d.entries
}

// Contains reports whether name is in the set.
func (d *Desired) Contains(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Len returns the number of unique entries.
func (d *Desired) Len() int {
	return len(d.entries)
}

// Filter returns a new Desired holding only entries for which keep returns true.
func (d *Desired) Filter(keep func(Entry) bool) *Desired {
	out := &Desired{index: make(map[string]int)}
	for _, e := range d.entries {
		if keep(e) {
			out.index[e.ReleaseName] = len(out.entries)
			out.entries = append(out.entries, e)
		}
	}
	return out
}

// Digest returns the content identifier of a release: the lowercase hex MD5
// of the name followed by a newline. The download source addresses releases
// by this value, so it must never change.
func Digest(name string) string {
	sum := md5.Sum([]byte(name + "\n"))
	return hex.EncodeToString(sum[:])
}

// CatalogError reports that the catalog could not be obtained.
type CatalogError struct {
	Op  string
	Err error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}
