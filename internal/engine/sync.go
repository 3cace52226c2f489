package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/vrpsync/vrpsync/internal/catalog"
	"github.com/vrpsync/vrpsync/internal/config"
	"github.com/vrpsync/vrpsync/internal/rclone"
	"github.com/vrpsync/vrpsync/internal/store"
)

// GameListTimeLayout formats the game list's modification time.
const GameListTimeLayout = "2006.01.02 15:04:05"

// ManifestSource yields the download server and unlock secret.
type ManifestSource interface {
	Fetch(ctx context.Context) (*catalog.Manifest, error)
}

// Remote lists and purges entries at the remote destination.
type Remote interface {
	Purger
	List(ctx context.Context) ([]string, error)
}

// Workspace is the full staging area used by a session.
type Workspace interface {
	Stager
	Path(name string) (string, error)
	Remove(name string) error
	ModTime(name string) (time.Time, error)
	MoveFile(name, destDir string) (string, error)
}

// SyncOptions controls a session.
type SyncOptions struct {
	// DryRun computes and prints the plan without changing anything.
	DryRun bool
}

// SyncReport describes a finished session.
type SyncReport struct {
	SessionID    string
	RunID        int64
	Delta        Delta
	Summary      Summary
	Phase        RunPhase
	GameListTime time.Time
	StartTime    time.Time
	EndTime      time.Time
}

// SyncManager sequences one full session: fetch the manifest and game list,
// list the remote, diff, reconcile and record the outcome.
type SyncManager struct {
	config    *config.Config
	manifests ManifestSource
	transfer  Transferer
	extract   Extractor
	remote    Remote
	stage     Workspace
	store     *store.Store
	out       io.Writer
	logger    *slog.Logger
}

// NewSyncManager creates a new SyncManager. st may be nil to skip run history.
func NewSyncManager(
	cfg *config.Config,
	manifests ManifestSource,
	transfer Transferer,
	extract Extractor,
	remote Remote,
	stage Workspace,
	st *store.Store,
	out io.Writer,
	logger *slog.Logger,
) *SyncManager {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &SyncManager{
		config:    cfg,
		manifests: manifests,
		transfer:  transfer,
		extract:   extract,
		remote:    remote,
		stage:     stage,
		store:     st,
		out:       out,
		logger:    logger,
	}
}

// Run performs one session. A failed addition returns the report so far with
// a *HaltError; setup and catalog failures return a nil report.
func (m *SyncManager) Run(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	report := &SyncReport{SessionID: uuid.NewString(), StartTime: time.Now()}
	log := m.logger.With("session", report.SessionID)
	log.Info("starting sync", "destination", m.config.Destination, "dry_run", opts.DryRun)

	manifest, err := m.manifests.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	listTime, err := m.fetchGameList(ctx, manifest)
	if err != nil {
		return nil, err
	}
	report.GameListTime = listTime

	desired, err := m.loadDesired()
	if err != nil {
		return nil, err
	}

	actual, err := m.listRemote(ctx)
	if err != nil {
		return nil, err
	}

	delta := ComputeDelta(desired, actual)
	report.Delta = delta
	log.Info("delta computed",
		"catalog", desired.Len(),
		"remote", len(actual),
		"additions", len(delta.Additions),
		"removals", len(delta.Removals),
	)

	run := m.startRun(report.SessionID, report.StartTime, delta, opts.DryRun)
	tracker := NewRunTracker(delta)

	if opts.DryRun {
		delta.WritePlan(m.out)
		report.Phase = tracker.Phase()
		report.EndTime = time.Now()
		m.finishRun(run, report, nil)
		return report, nil
	}

	reconciler := NewReconciler(m.transfer, m.extract, m.remote, m.stage, m.config.Destination, m.out, log)
	if run != nil {
		reconciler.SetRecorder(&historyRecorder{store: m.store, runID: run.ID, logger: log})
	}

	summary, applyErr := reconciler.Apply(ctx, tracker, delta, manifest)
	report.Summary = summary
	report.Phase = tracker.Phase()
	report.EndTime = time.Now()
	m.finishRun(run, report, applyErr)

	if applyErr != nil {
		return report, applyErr
	}

	if dst, err := m.stage.MoveFile(catalog.GameListFile, m.config.GameListDir); err != nil {
		log.Warn("failed to keep game list", "dir", m.config.GameListDir, "error", err)
	} else {
		log.Debug("game list saved", "path", dst)
	}

	log.Info("sync completed",
		"additions", summary.AdditionsApplied,
		"removals", summary.RemovalsApplied,
		"duration", report.EndTime.Sub(report.StartTime).Round(time.Second),
	)
	return report, nil
}

// fetchGameList downloads meta.7z, extracts the game list from it and prints
// the list's modification time.
func (m *SyncManager) fetchGameList(ctx context.Context, manifest *catalog.Manifest) (time.Time, error) {
	err := m.transfer.Transfer(ctx, rclone.Job{
		Mode:        rclone.Download,
		Identifier:  catalog.MetaArchive,
		Destination: m.stage.Root(),
		Server:      manifest.BaseURI,
		Silent:      true,
	})
	if err != nil {
		fmt.Fprintln(m.out, "Failed to download latest GameList. VRP server might be down!")
		return time.Time{}, &catalog.CatalogError{Op: "download game list", Err: err}
	}

	metaPath, err := m.stage.Path(catalog.MetaArchive)
	if err != nil {
		return time.Time{}, &catalog.CatalogError{Op: "locate game list archive", Err: err}
	}
	if err := m.extract.Extract(ctx, metaPath, []string{catalog.GameListFile}, manifest.Password); err != nil {
		return time.Time{}, &catalog.CatalogError{Op: "extract game list", Err: err}
	}

	modTime, err := m.stage.ModTime(catalog.GameListFile)
	if err != nil {
		return time.Time{}, &catalog.CatalogError{Op: "read game list", Err: err}
	}
	fmt.Fprintf(m.out, "Downloaded latest VRP GameList, it's last modification date is: %s\n", modTime.Format(GameListTimeLayout))
	m.logger.Debug("game list age", "updated", humanize.Time(modTime))

	if err := m.stage.Remove(catalog.MetaArchive); err != nil {
		m.logger.Warn("failed to remove game list archive", "error", err)
	}
	return modTime, nil
}

func (m *SyncManager) loadDesired() (*catalog.Desired, error) {
	path, err := m.stage.Path(catalog.GameListFile)
	if err != nil {
		return nil, &catalog.CatalogError{Op: "locate game list", Err: err}
	}
	entries, err := catalog.LoadGameListFile(path)
	if err != nil {
		return nil, &catalog.CatalogError{Op: "load game list", Err: err}
	}

	desired := catalog.NewDesired(entries, m.logger)
	if len(m.config.Exclude) == 0 {
		return desired, nil
	}
	filtered := desired.Filter(func(e catalog.Entry) bool {
		return !m.config.Excluded(e.ReleaseName)
	})
	if skipped := desired.Len() - filtered.Len(); skipped > 0 {
		m.logger.Info("excluded catalog entries", "count", skipped)
	}
	return filtered, nil
}

func (m *SyncManager) listRemote(ctx context.Context) ([]string, error) {
	names, err := m.remote.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote destination: %w", err)
	}
	if len(m.config.Exclude) == 0 {
		return names, nil
	}
	kept := names[:0:0]
	for _, n := range names {
		if !m.config.Excluded(n) {
			kept = append(kept, n)
		}
	}
	return kept, nil
}

func (m *SyncManager) startRun(sessionID string, start time.Time, delta Delta, dryRun bool) *store.Run {
	if m.store == nil {
		return nil
	}
	run := &store.Run{
		SessionID:   sessionID,
		Destination: m.config.Destination,
		StartTime:   start,
		Planned:     delta.Len(),
		DryRun:      dryRun,
		Status:      store.StatusRunning,
	}
	if err := m.store.CreateRun(run); err != nil {
		m.logger.Warn("failed to record run", "error", err)
		return nil
	}
	return run
}

func (m *SyncManager) finishRun(run *store.Run, report *SyncReport, runErr error) {
	if run == nil {
		return
	}
	run.EndTime = report.EndTime
	run.Additions = report.Summary.AdditionsApplied
	run.Removals = report.Summary.RemovalsApplied
	run.Status = store.StatusCompleted

	var halt *HaltError
	switch {
	case errors.As(runErr, &halt):
		run.Status = store.StatusHalted
		run.ErrorMessage = runErr.Error()
	case runErr != nil:
		run.Status = store.StatusFailed
		run.ErrorMessage = runErr.Error()
	}

	if err := m.store.UpdateRun(run); err != nil {
		m.logger.Warn("failed to update run record", "run_id", run.ID, "error", err)
	}
	report.RunID = run.ID
}

// historyRecorder writes per-release outcomes to the run history.
type historyRecorder struct {
	store  *store.Store
	runID  int64
	logger *slog.Logger
}

func (h *historyRecorder) RecordAddition(release, digest string, err error) {
	h.record(&store.ReleaseEvent{Release: release, Digest: digest, Action: store.ActionAdd}, err)
}

func (h *historyRecorder) RecordRemoval(release string, err error) {
	h.record(&store.ReleaseEvent{Release: release, Action: store.ActionRemove}, err)
}

func (h *historyRecorder) record(ev *store.ReleaseEvent, err error) {
	ev.RunID = h.runID
	ev.Outcome = store.OutcomeApplied
	if err != nil {
		ev.Outcome = store.OutcomeFailed
		ev.ErrorMessage = err.Error()
	}
	if recErr := h.store.RecordEvent(ev); recErr != nil {
		h.logger.Warn("failed to record release event", "release", ev.Release, "error", recErr)
	}
}
