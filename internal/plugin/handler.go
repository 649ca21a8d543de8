package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/logger"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// Handler runs one plugin module per invocation. Each call gets a fresh
// runtime, so a module never observes state from an earlier request.
type Handler struct {
	name  string
	code  []byte
	cache wazero.CompilationCache
	log   *logger.Logger
}

type pluginInput struct {
	Message action.Message `json:"message"`
	Context pluginContext  `json:"context"`
}

type pluginContext struct {
	OutputDir string `json:"output_dir,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
	input := pluginInput{Message: action.Message(msg.Params())}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCompilationCache(h.cache).
		WithCloseOnContextDone(true))
	defer r.Close(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	mod, err := r.CompileModule(ctx, h.code)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: compilation failed: %w", h.name, err)
	}

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithName(h.name).
		WithArgs(h.name).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithSysWalltime().
		WithSysNanotime()

	if hctx != nil && hctx.OutputDir != "" {
		if err := os.MkdirAll(hctx.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		config = config.WithFSConfig(wazero.NewFSConfig().WithDirMount(hctx.OutputDir, GuestOutputDir))
		input.Context.OutputDir = GuestOutputDir
	}

	stdin, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plugin input: %w", err)
	}
	config = config.WithStdin(bytes.NewReader(stdin))

	// Instantiation runs _start.
	instance, err := r.InstantiateModule(ctx, mod, config)
	if instance != nil {
		defer instance.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			return nil, h.failure(err, stderr.String())
		}
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	var result interface{}
	if err := json.Unmarshal(out, &result); err != nil {
		h.log.Debug("plugin %s wrote non-JSON output: %q", h.name, out)
		return nil, fmt.Errorf("plugin %s produced invalid JSON output: %w", h.name, err)
	}
	return result, nil
}

func (h *Handler) failure(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		h.log.Debug("plugin %s exited with code %d", h.name, exitErr.ExitCode())
		if stderr == "" {
			return fmt.Errorf("plugin %s exited with code %d", h.name, exitErr.ExitCode())
		}
		return fmt.Errorf("plugin %s exited with code %d: %s", h.name, exitErr.ExitCode(), stderr)
	}

	h.log.Debug("plugin %s runtime error: %v", h.name, err)
	if stderr != "" {
		return fmt.Errorf("plugin %s failed: %w: %s", h.name, err, stderr)
	}
	return fmt.Errorf("plugin %s failed: %w", h.name, err)
}
