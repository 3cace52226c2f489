package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vrpsync/vrpsync/internal/catalog"
	"github.com/vrpsync/vrpsync/internal/rclone"
	"github.com/vrpsync/vrpsync/internal/staging"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness stands in for rclone and 7z. It records every call in order and
// produces the files the real tools would leave in the staging area.
type harness struct {
	t     *testing.T
	stage *staging.Area

	calls    []string
	failures map[string]error // keyed by call, e.g. "download:<digest>"
	purgeErr map[string]error
	names    map[string]string // digest -> release name

	remote   []string
	gameList string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	area, err := staging.New(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("staging.New: %v", err)
	}
	return &harness{
		t:        t,
		stage:    area,
		failures: make(map[string]error),
		purgeErr: make(map[string]error),
		names:    make(map[string]string),
	}
}

// known registers release names so extraction can produce their directories.
func (h *harness) known(names ...string) {
	for _, n := range names {
		h.names[catalog.Digest(n)] = n
	}
}

func (h *harness) Transfer(_ context.Context, job rclone.Job) error {
	call := job.Mode.String() + ":" + job.Subject()
	h.calls = append(h.calls, call)
	if err := h.failures[call]; err != nil {
		return err
	}

	root := h.stage.Root()
	switch job.Mode {
	case rclone.Download:
		if job.Destination != root {
			return fmt.Errorf("download into %q, want staging root", job.Destination)
		}
		// Only the game list download reports its own outcome.
		if job.Silent != (job.Identifier == catalog.MetaArchive) {
			return fmt.Errorf("download of %s has Silent=%v", job.Identifier, job.Silent)
		}
		if job.Identifier == catalog.MetaArchive {
			return os.WriteFile(filepath.Join(root, catalog.MetaArchive), []byte("meta"), 0644)
		}
		for _, vol := range []string{".7z.001", ".7z.002"} {
			if err := os.WriteFile(filepath.Join(root, job.Identifier+vol), []byte("vol"), 0644); err != nil {
				return err
			}
		}
	case rclone.Upload:
		if _, err := os.Stat(job.Identifier); err != nil {
			return fmt.Errorf("upload of unstaged directory: %w", err)
		}
	}
	return nil
}

func (h *harness) Extract(_ context.Context, archivePath string, files []string, password string) error {
	base := filepath.Base(archivePath)
	call := "extract:" + base
	h.calls = append(h.calls, call)
	if err := h.failures[call]; err != nil {
		return err
	}

	root := h.stage.Root()
	if base == catalog.MetaArchive {
		if len(files) != 1 || files[0] != catalog.GameListFile {
			return fmt.Errorf("meta extraction asked for %v", files)
		}
		return os.WriteFile(filepath.Join(root, catalog.GameListFile), []byte(h.gameList), 0644)
	}

	name, ok := h.names[strings.TrimSuffix(base, staging.ArchiveSuffix)]
	if !ok {
		return fmt.Errorf("unknown archive %s", base)
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "release.apk"), []byte("apk"), 0644)
}

func (h *harness) Purge(_ context.Context, name string) error {
	h.calls = append(h.calls, "purge:"+name)
	return h.purgeErr[name]
}

func (h *harness) List(_ context.Context) ([]string, error) {
	h.calls = append(h.calls, "list")
	if err := h.failures["list"]; err != nil {
		return nil, err
	}
	return append([]string(nil), h.remote...), nil
}

// stagingEntries returns the names left in the staging area.
func (h *harness) stagingEntries() []string {
	h.t.Helper()
	entries, err := os.ReadDir(h.stage.Root())
	if err != nil {
		h.t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (h *harness) reconciler(out io.Writer) *Reconciler {
	return NewReconciler(h, h, h, h.stage, "remote:/vr", out, discardLogger())
}

// recordingRecorder captures per-release outcomes.
type recordingRecorder struct {
	additions []string
	removals  []string
	failed    []string
}

func (r *recordingRecorder) RecordAddition(release, digest string, err error) {
	r.additions = append(r.additions, release)
	if err != nil {
		r.failed = append(r.failed, release)
	}
}

func (r *recordingRecorder) RecordRemoval(release string, err error) {
	r.removals = append(r.removals, release)
	if err != nil {
		r.failed = append(r.failed, release)
	}
}

func desiredOf(names ...string) *catalog.Desired {
	entries := make([]catalog.Entry, 0, len(names))
	for _, n := range names {
		entries = append(entries, catalog.Entry{ReleaseName: n})
	}
	return catalog.NewDesired(entries, discardLogger())
}

var testManifest = &catalog.Manifest{BaseURI: "https://mirror.example/", Password: "pw"}
