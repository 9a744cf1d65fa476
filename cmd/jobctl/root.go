package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/jobctl/internal/config"
)

const defaultConfigFile = "jobctl.yaml"

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "jobctl controls resumable machine jobs",
	Long: `jobctl runs placement and dispensing jobs on a machine, one operation at a time.
Runs can be paused, stepped, resumed and aborted, and failed operations are retried,
skipped or paused on by an operator.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (default ./jobctl.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("machine", "", "Override the configured machine ID")
}

// loadConfig reads the configuration named by --config, falls back to ./jobctl.yaml
// and then to the defaults, and applies the flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if machine, _ := cmd.Flags().GetString("machine"); machine != "" {
		cfg.MachineID = machine
	}
	if cmd.Flags().Lookup("workflow") != nil {
		if wf, _ := cmd.Flags().GetString("workflow"); wf != "" {
			cfg.Workflow = wf
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
