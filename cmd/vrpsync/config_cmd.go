package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vrpsync/vrpsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `Manage vrpsync configuration. Subcommands write a starter file or print the effective settings.`,
		Example: `  vrpsync config init
  vrpsync config show`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format. Proxy credentials
are masked.`,
		Example: `  vrpsync config show
  vrpsync config show --config /etc/vrpsync/vrpsync.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(globalCfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	if cfgPath != "" {
		fmt.Printf("# loaded from %s\n", cfgPath)
	}
	fmt.Println(string(data))

	return nil
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write a commented default config file to the path given by --config, or
to ./vrpsync.yaml. An existing file is never overwritten.`,
		Example: `  vrpsync config init
  vrpsync config init --config ~/.config/vrpsync/vrpsync.yaml`,
		Args: cobra.NoArgs,
		RunE: configInitRun,
	}

	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	path := cfgPath
	if path == "" {
		path = config.DefaultFileName
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}

	slog.Default().Debug("wrote default config", "path", path)
	fmt.Printf("Wrote default configuration to %s\n", path)
	fmt.Println("Set temp_path and destination before running 'vrpsync sync'.")
	return nil
}
