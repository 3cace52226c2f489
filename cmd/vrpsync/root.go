package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vrpsync/vrpsync/internal/config"
	"github.com/vrpsync/vrpsync/internal/store"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore *store.Store
)

// initializeComponents opens the run history database
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	dbPath := globalCfg.DBPath
	if dbPath == "" {
		dbPath = config.DefaultConfig().DBPath
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st
	return nil
}

// needsComponents reports whether a command reads or writes run history
func needsComponents(cmdName string) bool {
	return cmdName == "sync" || cmdName == "status"
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vrpsync",
		Short: "Keep an rclone remote in step with the VRP release catalog",
		Long: `vrpsync mirrors the VRP release catalog onto any rclone remote. Each run
fetches the current game list, compares it with what the remote already
holds, downloads and uploads the missing releases one at a time, and purges
releases that are no longer listed.`,
		Example: `  vrpsync sync
  vrpsync sync --dry-run
  vrpsync status --limit 5
  vrpsync config init
  vrpsync digest "Some Release v1+1.0"`,
		Version:      "0.1.0",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				found, err := config.FindConfigFile()
				if err != nil {
					if cmd.Name() == "sync" {
						return createDefaultConfig(config.DefaultFileName)
					}
					logger.Warn("config file not found, using defaults", "error", err)
				}
				cfgPath = found
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					if errors.Is(err, os.ErrNotExist) && cmd.Name() == "sync" {
						return createDefaultConfig(cfgPath)
					}
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			logger.Debug("config loaded", "path", cfgPath)

			if needsComponents(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "only log errors")

	cmd.AddCommand(
		newSyncCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newDigestCmd(),
	)

	return cmd
}

// createDefaultConfig writes a default config file and stops the run so it can be edited
func createDefaultConfig(path string) error {
	if err := config.WriteDefault(path); err != nil {
		return fmt.Errorf("config file is missing and could not be created: %w", err)
	}
	fmt.Printf("ATTENTION! '%s' file was missing so it was created. Please edit it with proper settings and restart vrpsync.\n", path)
	return fmt.Errorf("config file %s was missing and has been created", path)
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
		"digest":  true,
		"init":    true,
	}
	return skipConfigCmds[cmdName]
}
