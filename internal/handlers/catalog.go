// Package handlers contains the built-in desktop automation actions.
package handlers

import (
	"context"
	"sort"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/desktop"
	"github.com/codefionn/deskrelay/internal/registry"
)

// SourceBuiltin is the registry source of every built-in entry.
const SourceBuiltin = "builtin"

// Builtins returns the built-in handlers keyed by action name.
func Builtins(d desktop.Desktop) map[string]action.Handler {
	return map[string]action.Handler{
		"move":       &MoveHandler{Desktop: d},
		"click":      &ClickHandler{Desktop: d},
		"press":      &PressHandler{Desktop: d},
		"keydown":    &KeyDownHandler{Desktop: d},
		"type":       &TypeHandler{Desktop: d},
		"scroll":     &ScrollHandler{Desktop: d},
		"dragto":     &DragToHandler{Desktop: d},
		"dragrel":    &DragRelHandler{Desktop: d},
		"hotkey":     &HotkeyHandler{Desktop: d},
		"screenshot": &ScreenshotHandler{Desktop: d},
	}
}

// Discoverer exposes the built-ins as a registry extension point.
func Discoverer(d desktop.Desktop) registry.Discoverer {
	return registry.DiscoverFunc(func(ctx context.Context) ([]registry.Entry, error) {
		builtins := Builtins(d)
		entries := make([]registry.Entry, 0, len(builtins))
		for name, h := range builtins {
			entries = append(entries, registry.Entry{Name: name, Handler: h, Source: SourceBuiltin})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		return entries, nil
	})
}
