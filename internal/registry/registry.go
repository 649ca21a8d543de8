// Package registry holds the table of action handlers the dispatcher routes to.
//
// The table is rebuilt from scratch by a discovery pass over every configured
// Discoverer and published as an immutable Generation. Readers load the current
// generation with a single atomic pointer read, so a lookup always sees one
// complete table, never a mix of two.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/logger"
)

// Entry binds an action name to its handler.
type Entry struct {
	Name    string
	Handler action.Handler
	// Source names the extension point that produced the entry ("builtin", a plugin path, ...).
	Source string
	// Digest identifies the handler's implementation; plugins use a content hash.
	Digest uint64
}

// Discoverer enumerates handler definitions from one extension point.
// Discover must not touch the live table.
type Discoverer interface {
	Discover(ctx context.Context) ([]Entry, error)
}

// DiscoverFunc adapts a function to Discoverer.
type DiscoverFunc func(ctx context.Context) ([]Entry, error)

// Discover calls f.
func (f DiscoverFunc) Discover(ctx context.Context) ([]Entry, error) {
	return f(ctx)
}

// Generation is one immutable handler table.
type Generation struct {
	Number      uint64
	Fingerprint uint64
	LoadedAt    time.Time

	entries map[string]Entry
}

// Lookup returns the entry registered under name.
func (g *Generation) Lookup(name string) (Entry, bool) {
	if g == nil {
		return Entry{}, false
	}
	e, ok := g.entries[name]
	return e, ok
}

// Len returns the number of handlers in the generation.
func (g *Generation) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// Names returns the sorted action names.
func (g *Generation) Names() []string {
	if g == nil {
		return nil
	}
	names := make([]string, 0, len(g.entries))
	for name := range g.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FingerprintHex renders the fingerprint the way it is reported to clients.
func (g *Generation) FingerprintHex() string {
	if g == nil {
		return ""
	}
	return fmt.Sprintf("%016x", g.Fingerprint)
}

// Option configures a Registry.
type Option func(*Registry)

// WithReserved excludes names from discovery. The dispatcher reserves its
// control actions this way so no handler can shadow them.
func WithReserved(names ...string) Option {
	return func(r *Registry) {
		for _, name := range names {
			r.reserved[name] = true
		}
	}
}

// WithDisabled drops the named actions from every discovery pass.
func WithDisabled(names ...string) Option {
	return func(r *Registry) {
		for _, name := range names {
			r.disabled[name] = true
		}
	}
}

// Registry manages the live handler table.
type Registry struct {
	discoverers []Discoverer
	reserved    map[string]bool
	disabled    map[string]bool

	reloadMu sync.Mutex
	current  atomic.Pointer[Generation]
	log      *logger.Logger
}

// New creates an empty registry. Call Reload to populate it. Later discoverers
// take precedence over earlier ones for the same name.
func New(discoverers []Discoverer, opts ...Option) *Registry {
	r := &Registry{
		discoverers: discoverers,
		reserved:    make(map[string]bool),
		disabled:    make(map[string]bool),
		log:         logger.Global().WithPrefix("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&Generation{entries: map[string]Entry{}})
	return r
}

// Discover runs every discoverer and returns a fresh table without publishing it.
func (r *Registry) Discover(ctx context.Context) (map[string]Entry, error) {
	table := make(map[string]Entry)
	var errs []error

	for _, d := range r.discoverers {
		entries, err := d.Discover(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			switch {
			case e.Name == "" || e.Handler == nil:
				errs = append(errs, fmt.Errorf("invalid handler definition %q from %s", e.Name, e.Source))
				continue
			case r.reserved[e.Name]:
				r.log.Warn("Ignoring handler %q from %s: name is reserved", e.Name, e.Source)
				continue
			case r.disabled[e.Name]:
				r.log.Debug("Handler %q from %s is disabled", e.Name, e.Source)
				continue
			}
			if prev, ok := table[e.Name]; ok {
				r.log.Info("Handler %q from %s overrides %s", e.Name, e.Source, prev.Source)
			}
			table[e.Name] = e
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return table, nil
}

// Reload discovers a new table and swaps it in. On failure the current
// generation stays in place and the error is returned.
func (r *Registry) Reload(ctx context.Context) (*Generation, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	table, err := r.Discover(ctx)
	if err != nil {
		r.log.Error("Reload failed, keeping generation %d: %v", r.current.Load().Number, err)
		return nil, err
	}

	next := &Generation{
		Number:      r.current.Load().Number + 1,
		Fingerprint: fingerprint(table),
		LoadedAt:    time.Now(),
		entries:     table,
	}
	r.current.Store(next)

	r.log.Info("Loaded generation %d with %d handlers (fingerprint %s)", next.Number, next.Len(), next.FingerprintHex())
	return next, nil
}

// Resolve looks up a handler in the current generation.
func (r *Registry) Resolve(name string) (action.Handler, bool) {
	e, ok := r.current.Load().Lookup(name)
	return e.Handler, ok
}

// Current returns the live generation.
func (r *Registry) Current() *Generation {
	return r.current.Load()
}

func fingerprint(table map[string]Entry) uint64 {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxhash.New()
	for _, name := range names {
		e := table[name]
		_, _ = h.WriteString(name)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(e.Source)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(strconv.FormatUint(e.Digest, 16))
		_, _ = h.WriteString("\n")
	}
	return h.Sum64()
}
