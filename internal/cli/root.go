// Package cli implements the vibephp commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/logging"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "vibephp",
	Short: "Plan, build and auto-fix PHP apps with an AI agent",
	Long: `VibePHP turns a prompt into a runnable PHP project. It streams a plan,
generates the files, dry-runs them on a remote PHP executor and patches
failures line by line until the app verifies or the fix budget runs out.

Available commands:
  serve    - Run the HTTP and WebSocket API
  build    - Run the whole loop headless and write the project to disk
  token    - Issue API bearer tokens
  secret   - Generate an AUTH_SECRET
  version  - Show version information`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	defer logging.Sync()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides VIBEPHP_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add subcommands (alphabetical)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves configuration and configures the global logger from it.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		if err := os.Setenv("VIBEPHP_CONFIG", configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Configure(logging.Options{
		Environment: cfg.Environment,
		File:        cfg.LogFile,
		Debug:       debug,
	})
	return cfg, nil
}
