package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vrpsync/vrpsync/internal/catalog"
	"github.com/vrpsync/vrpsync/internal/rclone"
)

// Transferer runs one copy through the transfer tool.
type Transferer interface {
	Transfer(ctx context.Context, job rclone.Job) error
}

// Extractor unpacks an archive into the staging area.
type Extractor interface {
	Extract(ctx context.Context, archivePath string, files []string, password string) error
}

// Purger deletes a named entry at the remote destination.
type Purger interface {
	Purge(ctx context.Context, name string) error
}

// Stager is the part of the staging area the reconciler uses.
type Stager interface {
	Root() string
	ArchivePath(id string) (string, error)
	RemovePrefixed(prefix string) error
	EnsureRelease(name string) (string, error)
	RemoveRelease(name string) error
}

// Recorder is told the outcome of every addition and removal.
type Recorder interface {
	RecordAddition(release, digest string, err error)
	RecordRemoval(release string, err error)
}

// Reconciler applies a delta: additions are downloaded, extracted, uploaded
// and cleaned up one at a time; removals are purged afterwards. The first
// failed addition halts the run.
type Reconciler struct {
	transfer    Transferer
	extract     Extractor
	purge       Purger
	stage       Stager
	recorder    Recorder
	destination string
	out         io.Writer
	logger      *slog.Logger
}

// NewReconciler creates a Reconciler that uploads to destination. out receives
// the per-release narration.
func NewReconciler(transfer Transferer, extract Extractor, purge Purger, stage Stager, destination string, out io.Writer, logger *slog.Logger) *Reconciler {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		transfer:    transfer,
		extract:     extract,
		purge:       purge,
		stage:       stage,
		destination: destination,
		out:         out,
		logger:      logger,
	}
}

// SetRecorder installs a recorder for per-release outcomes.
func (r *Reconciler) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// Reconcile diffs desired against actual and applies the result.
func (r *Reconciler) Reconcile(ctx context.Context, desired *catalog.Desired, actual []string, source *catalog.Manifest) (Summary, error) {
	delta := ComputeDelta(desired, actual)
	return r.Apply(ctx, NewRunTracker(delta), delta, source)
}

// Apply executes a precomputed delta, advancing tracker through its phases.
// On a halted run the returned summary holds the counts reached before the
// failure and the error is a *HaltError.
func (r *Reconciler) Apply(ctx context.Context, tracker *RunTracker, delta Delta, source *catalog.Manifest) (Summary, error) {
	if err := tracker.transition(PhaseExecuting); err != nil {
		return Summary{}, err
	}

	r.logger.Info("applying delta", "additions", len(delta.Additions), "removals", len(delta.Removals))

	for i, entry := range delta.Additions {
		tracker.setCurrent(entry.ReleaseName)
		digest := catalog.Digest(entry.ReleaseName)

		err := r.add(ctx, entry.ReleaseName, digest, source)
		r.recordAddition(entry.ReleaseName, digest, err)
		if err != nil {
			_ = tracker.transition(PhaseHalted)
			snap := tracker.Snapshot()
			r.logger.Error("addition failed, halting run",
				"release", entry.ReleaseName,
				"digest", digest,
				"error", err,
				"added", snap.AdditionsApplied,
				"planned_additions", snap.AdditionsPlanned,
				"skipped_removals", snap.RemovalsPlanned,
				"elapsed", snap.Elapsed.Round(time.Millisecond),
			)
			return tracker.summary(), &HaltError{Release: entry.ReleaseName, Index: i, Err: err}
		}
		tracker.addApplied()
	}

	for _, name := range delta.Removals {
		tracker.setCurrent(name)
		fmt.Fprintf(r.out, "THIS IS NOT ON GAMELIST, REMOVING: %s\n", name)

		err := r.purge.Purge(ctx, name)
		if err != nil {
			r.logger.Warn("remote purge failed", "release", name, "error", err)
		}
		r.recordRemoval(name, err)
		tracker.removalApplied()
	}

	if err := tracker.transition(PhaseDone); err != nil {
		return tracker.summary(), err
	}
	return tracker.summary(), nil
}

// add runs the download, extract, upload and cleanup sequence for one release.
func (r *Reconciler) add(ctx context.Context, name, digest string, source *catalog.Manifest) error {
	fmt.Fprintf(r.out, "Downloading %s\n", name)
	if err := r.transfer.Transfer(ctx, rclone.Job{
		Mode:        rclone.Download,
		Identifier:  digest,
		Destination: r.stage.Root(),
		Server:      source.BaseURI,
	}); err != nil {
		return err
	}

	archivePath, err := r.stage.ArchivePath(digest)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Extracting %s\n", name)
	if err := r.extract.Extract(ctx, archivePath, nil, source.Password); err != nil {
		return err
	}
	if err := r.stage.RemovePrefixed(digest); err != nil {
		return fmt.Errorf("cleaning archive volumes: %w", err)
	}

	dir, err := r.stage.EnsureRelease(name)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Copying %s\n", name)
	uploadErr := r.transfer.Transfer(ctx, rclone.Job{
		Mode:        rclone.Upload,
		Identifier:  dir,
		Destination: rclone.RemotePath(r.destination, name),
	})

	// The staged copy is dropped whatever the upload outcome.
	if err := r.stage.RemoveRelease(name); err != nil {
		if uploadErr != nil {
			r.logger.Warn("failed to remove staged release", "release", name, "error", err)
			return uploadErr
		}
		return err
	}
	return uploadErr
}

func (r *Reconciler) recordAddition(name, digest string, err error) {
	if r.recorder != nil {
		r.recorder.RecordAddition(name, digest, err)
	}
}

func (r *Reconciler) recordRemoval(name string, err error) {
	if r.recorder != nil {
		r.recorder.RecordRemoval(name, err)
	}
}
