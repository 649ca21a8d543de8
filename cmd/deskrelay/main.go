package main

import (
	"fmt"
	"os"

	"github.com/codefionn/deskrelay/internal/config"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "deskrelay",
	Short: "Desktop automation over WebSocket",
	Long: `deskrelay accepts JSON commands over a WebSocket connection, checks each one
against a shared token and runs the named desktop action (move, click, type,
screenshot, ...) or a WebAssembly plugin.

Handlers can be reloaded at runtime with the "reload" action; the "shutdown"
action or SIGINT/SIGTERM stop the server after in-flight requests finished.

If no subcommand is specified, runs the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (YAML, defaults to "+config.GetConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before DESKRELAY_* overrides")
}

// loadConfig resolves the configuration: file over defaults, then the .env
// file, then DESKRELAY_* variables.
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		path = config.GetConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
