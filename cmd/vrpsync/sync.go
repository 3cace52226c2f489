package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vrpsync/vrpsync/internal/archive"
	"github.com/vrpsync/vrpsync/internal/catalog"
	"github.com/vrpsync/vrpsync/internal/config"
	"github.com/vrpsync/vrpsync/internal/engine"
	"github.com/vrpsync/vrpsync/internal/progress"
	"github.com/vrpsync/vrpsync/internal/rclone"
	"github.com/vrpsync/vrpsync/internal/safety"
	"github.com/vrpsync/vrpsync/internal/staging"
	"github.com/vrpsync/vrpsync/internal/store"
)

// manifestTimeout bounds the manifest request; transfers themselves are unbounded.
const manifestTimeout = 30 * time.Second

var syncDryRun bool

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the remote destination in line with the game list",
		Long: `Bring the configured rclone destination in line with the current VRP game list.

The sync command will:
  1. Fetch the download manifest (falling back to the cached copy)
  2. Download and unpack the latest game list
  3. List the releases already at the destination
  4. Download, extract and upload every missing release, one at a time
  5. Purge releases that are no longer on the game list

A failed download, extraction or upload stops the run immediately. Failed
purges are logged and the run continues.`,
		Example: `  vrpsync sync
  vrpsync sync --dry-run
  vrpsync sync --config /etc/vrpsync/vrpsync.yaml --log-level debug`,
		RunE: syncRun,
	}

	cmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "show what would be done without making changes")

	return cmd
}

func syncRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if err := globalCfg.Validate(); err != nil {
		return err
	}

	if globalCfg.ProxyEnabled() {
		fmt.Println("!! PROXY IS FOUND AND ENABLED !!")
	}

	mgr, err := buildSyncManager(globalCfg, globalStore, os.Stdout, log)
	if err != nil {
		return err
	}

	report, err := mgr.Run(cmd.Context(), engine.SyncOptions{DryRun: syncDryRun})
	if err != nil {
		return err
	}

	if !syncDryRun {
		fmt.Println(report.Summary.String())
	}
	return nil
}

// buildSyncManager wires the rclone driver, 7z extractor, staging area and
// manifest fetcher into a SyncManager. Console output goes to out.
func buildSyncManager(cfg *config.Config, st *store.Store, out io.Writer, log *slog.Logger) (*engine.SyncManager, error) {
	proxy, err := safety.ParseProxyURL(cfg.Proxy)
	if err != nil {
		return nil, &config.SetupError{Field: "proxy", Reason: err.Error()}
	}
	fetcher := catalog.NewManifestFetcher(
		safety.NewHTTPClient(manifestTimeout, proxy),
		cfg.ManifestURL,
		cfg.ManifestCache,
		log,
	)

	area, err := staging.New(cfg.TempPath, log)
	if err != nil {
		return nil, &config.SetupError{Field: "temp_path", Reason: err.Error()}
	}

	sink := progress.NewTerminal(out)
	monitor, err := rclone.NewMonitor(cfg.RCAddr, rclone.DefaultPollInterval, sink, log)
	if err != nil {
		return nil, &config.SetupError{Field: "rc_addr", Reason: err.Error()}
	}
	driver := rclone.NewDriver(cfg, monitor, sink, out, log)
	extractor := archive.NewSevenZip(cfg.SevenZipPath, area.Root(), out, log)

	return engine.NewSyncManager(cfg, fetcher, driver, extractor, driver, area, st, out, log), nil
}
