package handlers

import (
	"context"
	"strings"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/desktop"
)

// defaultTypeInterval is the pause between typed characters, in seconds.
const defaultTypeInterval = 0.02

// PressHandler presses and releases one key.
type PressHandler struct {
	Desktop desktop.Desktop
}

func (h *PressHandler) Handle(ctx context.Context, msg action.Message, _ *action.Context) (interface{}, error) {
	k, err := key(msg)
	if err != nil {
		return nil, err
	}
	if err := h.Desktop.Press(ctx, k); err != nil {
		return nil, err
	}
	return map[string]interface{}{"pressed": k}, nil
}

// KeyDownHandler holds a key down until a later release.
type KeyDownHandler struct {
	Desktop desktop.Desktop
}

func (h *KeyDownHandler) Handle(ctx context.Context, msg action.Message, _ *action.Context) (interface{}, error) {
	k, err := key(msg)
	if err != nil {
		return nil, err
	}
	if err := h.Desktop.KeyDown(ctx, k); err != nil {
		return nil, err
	}
	return map[string]interface{}{"keydown": k}, nil
}

// TypeHandler types a string one character at a time.
type TypeHandler struct {
	Desktop desktop.Desktop
}

func (h *TypeHandler) Handle(ctx context.Context, msg action.Message, _ *action.Context) (interface{}, error) {
	text, ok := msg.String("text")
	if !ok || text == "" {
		return nil, action.InvalidParams("No text to type")
	}
	interval, err := seconds(msg, "interval", defaultTypeInterval)
	if err != nil {
		return nil, err
	}
	if err := h.Desktop.TypeText(ctx, text, interval); err != nil {
		return nil, err
	}
	return map[string]interface{}{"typed": text}, nil
}

// HotkeyHandler presses a key combination, e.g. ["ctrl", "shift", "esc"].
type HotkeyHandler struct {
	Desktop desktop.Desktop
}

func (h *HotkeyHandler) Handle(ctx context.Context, msg action.Message, _ *action.Context) (interface{}, error) {
	keys, ok := msg.Strings("keys")
	if !ok || len(keys) == 0 {
		return nil, action.InvalidParams("Missing or invalid 'keys' list")
	}
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			return nil, action.InvalidParams("Empty key name in 'keys'")
		}
	}
	if err := h.Desktop.Hotkey(ctx, keys...); err != nil {
		return nil, err
	}
	return map[string]interface{}{"message": "Pressed hotkey: " + strings.Join(keys, "+")}, nil
}
