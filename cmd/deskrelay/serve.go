package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/config"
	"github.com/codefionn/deskrelay/internal/desktop"
	"github.com/codefionn/deskrelay/internal/dispatch"
	"github.com/codefionn/deskrelay/internal/handlers"
	"github.com/codefionn/deskrelay/internal/journal"
	"github.com/codefionn/deskrelay/internal/logger"
	"github.com/codefionn/deskrelay/internal/pidfile"
	"github.com/codefionn/deskrelay/internal/plugin"
	"github.com/codefionn/deskrelay/internal/registry"
	"github.com/codefionn/deskrelay/internal/securemem"
	"github.com/codefionn/deskrelay/internal/server"
	"github.com/codefionn/deskrelay/internal/shutdown"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// serveCmd runs the WebSocket server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server until shutdown",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// buildRegistry wires the built-in actions and the plugin directory into a
// registry. The returned cleanup releases the plugin compilation cache.
func buildRegistry(cfg *config.Config, desk desktop.Desktop) (*registry.Registry, func(), error) {
	discoverers := []registry.Discoverer{handlers.Discoverer(desk)}
	cleanup := func() {}

	if cfg.Plugins.Dir != "" {
		plugins := plugin.NewDiscoverer(cfg.Plugins.Dir)
		// plugins come last so they override built-ins of the same name
		discoverers = append(discoverers, plugins)
		cleanup = func() {
			if err := plugins.Close(context.Background()); err != nil {
				logger.Warn("Failed to release plugin cache: %v", err)
			}
		}
	}

	reg := registry.New(discoverers,
		registry.WithReserved(dispatch.ControlActions...),
		registry.WithDisabled(cfg.Actions.Disabled...),
	)
	return reg, cleanup, nil
}

func newDesktop(cfg *config.Config) *desktop.Headless {
	return desktop.NewHeadless(desktop.HeadlessOptions{
		Width:    cfg.Screen.Width,
		Height:   cfg.Screen.Height,
		FailSafe: cfg.FailSafe,
		Pause:    cfg.Pause(),
	})
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		logger.Info("Cleanup complete")
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	if cfg.PIDFile != "" {
		pf := pidfile.New(cfg.PIDFile)
		if err := pf.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := pf.Release(); err != nil {
				logger.Warn("%v", err)
			}
		}()
	}

	secret := securemem.NewString(cfg.AuthToken)
	cfg.AuthToken = ""
	defer securemem.Purge()
	defer secret.Destroy()

	outputDir, err := filepath.Abs(cfg.ScreenshotDir)
	if err != nil {
		return fmt.Errorf("invalid screenshot_dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot_dir: %w", err)
	}

	reg, cleanup, err := buildRegistry(cfg, newDesktop(cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	gen, err := reg.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load handlers: %w", err)
	}
	logger.Info("Loaded %d actions (generation %d, fingerprint %s)", gen.Len(), gen.Number, gen.FingerprintHex())

	var recorder dispatch.Recorder
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		recorder = j
		logger.Info("Journaling dispatches to %s", j.Path())
	}

	flag := shutdown.NewFlag()
	stopSignals := shutdown.NotifyOnSignals(ctx, flag)
	defer stopSignals()

	if cfg.Plugins.Watch {
		go func() {
			if err := reg.Watch(ctx, cfg.Plugins.Dir, registry.DefaultWatchDebounce); err != nil {
				logger.Warn("Plugin watcher stopped: %v", err)
			}
		}()
	}

	disp := dispatch.New(dispatch.Options{
		Secret:         secret,
		Registry:       reg,
		Shutdown:       flag,
		HandlerContext: &action.Context{OutputDir: outputDir},
		Timeout:        cfg.HandlerTimeout(),
		Journal:        recorder,
	})

	srv := server.New(server.Options{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Dispatcher:     disp,
		Registry:       reg,
		Shutdown:       flag,
		MaxMessageSize: cfg.MaxMessage,
		MaxConnections: cfg.MaxConns,
		ShutdownGrace:  cfg.ShutdownGrace(),
		RateLimit:      rate.Limit(cfg.RateLimit.PerSecond),
		RateBurst:      cfg.RateLimit.Burst,
	})

	if err := srv.Run(ctx); err != nil {
		return err
	}
	if reason := flag.Reason(); reason != "" {
		logger.Info("Stopped (%s)", reason)
	}
	return nil
}
