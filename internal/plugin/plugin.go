// Package plugin loads action handlers from WebAssembly modules.
//
// Every <name>.wasm file in the plugin directory becomes the handler for the
// action <name>. A plugin is a WASI command: it receives the request on stdin as
//
//	{"message": {...}, "context": {"output_dir": "/out"}}
//
// and prints its JSON result on stdout. The handler context's output directory
// is mounted read-write at /out. A non-zero exit status fails the action with
// the plugin's stderr as the error text.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/codefionn/deskrelay/internal/logger"
	"github.com/codefionn/deskrelay/internal/registry"
	"github.com/tetratelabs/wazero"
)

// Extension is the file extension of plugin modules.
const Extension = ".wasm"

// GuestOutputDir is where the output directory is mounted inside the guest.
const GuestOutputDir = "/out"

// Discoverer scans a directory for plugin modules. Compiled code is shared
// between discovery passes and invocations through one compilation cache.
type Discoverer struct {
	dir   string
	cache wazero.CompilationCache
	log   *logger.Logger
}

// NewDiscoverer creates a discoverer for dir. An empty dir yields no plugins.
func NewDiscoverer(dir string) *Discoverer {
	return &Discoverer{
		dir:   dir,
		cache: wazero.NewCompilationCache(),
		log:   logger.Global().WithPrefix("plugin"),
	}
}

// Dir returns the scanned directory.
func (d *Discoverer) Dir() string {
	return d.dir
}

// Discover compiles every module in the directory. Any invalid module fails
// the whole pass so a broken plugin never silently drops out of the table.
func (d *Discoverer) Discover(ctx context.Context) ([]registry.Entry, error) {
	if d.dir == "" {
		return nil, nil
	}

	files, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.log.Warn("plugin directory %s does not exist", d.dir)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var entries []registry.Entry
	for _, f := range files {
		if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), Extension) {
			continue
		}
		path := filepath.Join(d.dir, f.Name())
		name := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))

		code, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read plugin %s: %w", path, err)
		}
		if err := d.validate(ctx, code); err != nil {
			return nil, fmt.Errorf("invalid plugin %s: %w", path, err)
		}

		d.log.Debug("discovered plugin %s (%d bytes)", name, len(code))
		entries = append(entries, registry.Entry{
			Name:    name,
			Handler: &Handler{name: name, code: code, cache: d.cache, log: d.log},
			Source:  path,
			Digest:  xxhash.Sum64(code),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// validate compiles code and checks that it is a WASI command.
func (d *Discoverer) validate(ctx context.Context, code []byte) error {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCompilationCache(d.cache))
	defer r.Close(ctx)

	mod, err := r.CompileModule(ctx, code)
	if err != nil {
		return fmt.Errorf("compilation failed: %w", err)
	}
	if _, ok := mod.ExportedFunctions()["_start"]; !ok {
		return fmt.Errorf("module does not export _start function")
	}
	return nil
}

// Close releases the compilation cache.
func (d *Discoverer) Close(ctx context.Context) error {
	return d.cache.Close(ctx)
}
