package main

import (
	"fmt"
	"os"

	"github.com/cuemby/kros/pkg/config"
	"github.com/cuemby/kros/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kros",
	Short: "kros - behaviour-based robot control plane",
	Long: `kros runs the event bus, garbage collector and behaviour arbitrator
of a behaviour-based robot in a single process.

Sensors publish prioritised events onto one shared bus; every subscriber
sees each envelope once, the most urgent intent reaches the motor
controller, and the arbitrator decides which behaviour may drive.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"kros version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to kros YAML configuration (defaults when empty)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(journalCmd)
}

// loadConfig reads --config and applies logging flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Kros.Log.Level = level
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Kros.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Kros.Log.Level),
		JSONOutput: cfg.Kros.Log.JSON,
	})
	return cfg, nil
}
