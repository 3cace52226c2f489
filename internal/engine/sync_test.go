package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vrpsync/vrpsync/internal/catalog"
	"github.com/vrpsync/vrpsync/internal/config"
	"github.com/vrpsync/vrpsync/internal/store"
)

type staticManifest struct {
	manifest *catalog.Manifest
	err      error
}

func (s staticManifest) Fetch(context.Context) (*catalog.Manifest, error) {
	return s.manifest, s.err
}

const testGameList = "Game Name;Release Name;Package Name;Version Code\n" +
	"Game A;GameA;com.a;1\n" +
	"Game B;GameB;com.b;2\n"

func newTestManager(t *testing.T, h *harness, st *store.Store, out *bytes.Buffer) (*SyncManager, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Destination = "remote:/vr"
	cfg.TempPath = h.stage.Root()
	cfg.GameListDir = t.TempDir()
	m := NewSyncManager(cfg, staticManifest{manifest: testManifest}, h, h, h, h.stage, st, out, discardLogger())
	return m, cfg
}

func newMemoryStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", discardLogger())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSyncManagerRun(t *testing.T) {
	h := newHarness(t)
	h.known("GameA", "GameB")
	h.gameList = testGameList
	h.remote = []string{"GameB", "GameC"}
	st := newMemoryStore(t)
	var out bytes.Buffer
	m, cfg := newTestManager(t, h, st, &out)

	report, err := m.Run(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Summary != (Summary{AdditionsApplied: 1, RemovalsApplied: 1}) {
		t.Errorf("summary = %+v", report.Summary)
	}
	if report.Phase != PhaseDone {
		t.Errorf("phase = %s, want done", report.Phase)
	}
	if report.GameListTime.IsZero() {
		t.Error("game list time not reported")
	}

	wantPrefix := []string{"download:" + catalog.MetaArchive, "extract:" + catalog.MetaArchive, "list"}
	if strings.Join(h.calls[:3], " ") != strings.Join(wantPrefix, " ") {
		t.Errorf("session started with %v, want %v", h.calls[:3], wantPrefix)
	}

	if !strings.Contains(out.String(), "Downloaded latest VRP GameList, it's last modification date is: ") {
		t.Errorf("output missing game list date:\n%s", out.String())
	}

	// meta.7z is deleted and the game list is kept in gamelist_dir.
	if left := h.stagingEntries(); len(left) != 0 {
		t.Errorf("staging not empty after run: %v", left)
	}
	if _, err := os.Stat(filepath.Join(cfg.GameListDir, catalog.GameListFile)); err != nil {
		t.Errorf("game list not moved to %s: %v", cfg.GameListDir, err)
	}

	run, err := st.GetRun(report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != store.StatusCompleted || run.Additions != 1 || run.Removals != 1 || run.Planned != 2 {
		t.Errorf("run record = %+v", run)
	}
	if report.SessionID == "" || run.SessionID != report.SessionID {
		t.Errorf("session = %q, recorded %q", report.SessionID, run.SessionID)
	}
	events, err := st.ListEvents(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Action != store.ActionAdd || events[0].Digest != catalog.Digest("GameA") {
		t.Errorf("events = %+v", events)
	}
}

func TestSyncManagerDryRun(t *testing.T) {
	h := newHarness(t)
	h.gameList = testGameList
	h.remote = []string{"GameC"}
	st := newMemoryStore(t)
	var out bytes.Buffer
	m, cfg := newTestManager(t, h, st, &out)

	report, err := m.Run(context.Background(), SyncOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, c := range h.calls {
		if strings.HasPrefix(c, "upload:") || strings.HasPrefix(c, "purge:") {
			t.Errorf("dry run mutated the remote: %s", c)
		}
	}
	if !strings.Contains(out.String(), "Plan: 2 to add, 1 to remove.") {
		t.Errorf("plan not printed:\n%s", out.String())
	}
	if report.Phase != PhasePlanned {
		t.Errorf("phase = %s, want planned", report.Phase)
	}
	if _, err := os.Stat(filepath.Join(cfg.GameListDir, catalog.GameListFile)); !os.IsNotExist(err) {
		t.Error("dry run should not move the game list")
	}

	run, err := st.GetRun(report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if !run.DryRun || run.Status != store.StatusCompleted {
		t.Errorf("run record = %+v", run)
	}
}

func TestSyncManagerHaltIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.known("GameA", "GameB")
	h.gameList = testGameList
	h.failures["download:"+catalog.Digest("GameA")] = errors.New("exit status 1")
	st := newMemoryStore(t)
	var out bytes.Buffer
	m, cfg := newTestManager(t, h, st, &out)

	report, err := m.Run(context.Background(), SyncOptions{})
	var halt *HaltError
	if !errors.As(err, &halt) {
		t.Fatalf("error = %v, want *HaltError", err)
	}
	if report == nil || report.Phase != PhaseHalted {
		t.Fatalf("report = %+v", report)
	}
	if strings.Contains(out.String(), "New Titles") || strings.Contains(out.String(), UpToDateMessage) {
		t.Error("halted run printed a summary")
	}

	run, err := st.GetRun(report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != store.StatusHalted || !strings.Contains(run.ErrorMessage, "GameA") {
		t.Errorf("run record = %+v", run)
	}
	if _, err := os.Stat(filepath.Join(cfg.GameListDir, catalog.GameListFile)); !os.IsNotExist(err) {
		t.Error("halted run should not move the game list")
	}
}

func TestSyncManagerManifestFailure(t *testing.T) {
	h := newHarness(t)
	m, _ := newTestManager(t, h, nil, &bytes.Buffer{})
	m.manifests = staticManifest{err: &catalog.CatalogError{Op: "fetch manifest", Err: errors.New("offline")}}

	report, err := m.Run(context.Background(), SyncOptions{})
	var cerr *catalog.CatalogError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *CatalogError", err)
	}
	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
	if len(h.calls) != 0 {
		t.Errorf("calls = %v, want none", h.calls)
	}
}

func TestSyncManagerGameListDownloadFailure(t *testing.T) {
	h := newHarness(t)
	h.failures["download:"+catalog.MetaArchive] = errors.New("exit status 1")
	var out bytes.Buffer
	m, _ := newTestManager(t, h, nil, &out)

	_, err := m.Run(context.Background(), SyncOptions{})
	var cerr *catalog.CatalogError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *CatalogError", err)
	}
	if !strings.Contains(out.String(), "Failed to download latest GameList") {
		t.Errorf("output = %q", out.String())
	}
	for _, c := range h.calls {
		if c == "list" {
			t.Error("remote listed after catalog failure")
		}
	}
}

func TestSyncManagerListFailure(t *testing.T) {
	h := newHarness(t)
	h.gameList = testGameList
	h.failures["list"] = errors.New("directory not found")
	m, _ := newTestManager(t, h, nil, &bytes.Buffer{})

	if _, err := m.Run(context.Background(), SyncOptions{}); err == nil {
		t.Fatal("expected listing failure to abort the run")
	}
}

func TestSyncManagerExcludesBothSides(t *testing.T) {
	h := newHarness(t)
	h.known("GameA")
	h.gameList = testGameList
	h.remote = []string{"GameB", "Manual Backup"}
	var out bytes.Buffer
	m, cfg := newTestManager(t, h, nil, &out)
	cfg.Exclude = []string{"GameB", "Manual *"}

	report, err := m.Run(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Summary != (Summary{AdditionsApplied: 1}) {
		t.Errorf("summary = %+v, want only GameA added", report.Summary)
	}
	for _, c := range h.calls {
		if strings.HasPrefix(c, "purge:") {
			t.Errorf("excluded remote entry purged: %s", c)
		}
	}
}
