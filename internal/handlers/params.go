package handlers

import (
	"time"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/desktop"
)

// point reads the required x/y pair.
func point(msg action.Message) (desktop.Point, error) {
	if !msg.Has("x") || !msg.Has("y") {
		return desktop.Point{}, action.InvalidParams("Requires 'x' and 'y'")
	}
	x, err := msg.Int("x")
	if err != nil {
		return desktop.Point{}, action.InvalidParams("%v", err)
	}
	y, err := msg.Int("y")
	if err != nil {
		return desktop.Point{}, action.InvalidParams("%v", err)
	}
	return desktop.Point{X: x, Y: y}, nil
}

// optionalPoint reads x/y when both are present.
func optionalPoint(msg action.Message) (desktop.Point, bool, error) {
	if !msg.Has("x") || !msg.Has("y") {
		return desktop.Point{}, false, nil
	}
	p, err := point(msg)
	return p, err == nil, err
}

// seconds reads a non-negative duration given in seconds.
func seconds(msg action.Message, key string, def float64) (time.Duration, error) {
	f, err := msg.FloatOr(key, def)
	if err != nil {
		return 0, action.InvalidParams("%v", err)
	}
	if f < 0 {
		return 0, action.InvalidParams("%q must not be negative", key)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func button(msg action.Message) (desktop.Button, error) {
	name := msg.StringOr("button", string(desktop.ButtonLeft))
	b, ok := desktop.ParseButton(name)
	if !ok {
		return "", action.InvalidParams("Unknown button %q", name)
	}
	return b, nil
}

// key reads a required key name.
func key(msg action.Message) (string, error) {
	k, ok := msg.Text("key")
	if !ok || k == "" {
		return "", action.InvalidParams("Requires 'key'")
	}
	return k, nil
}

// clamped keeps p inside the screen of d.
func clamped(d desktop.Desktop, p desktop.Point) desktop.Point {
	w, h := d.Size()
	return desktop.Clamp(p, w, h)
}

func pair(p desktop.Point) []int {
	return []int{p.X, p.Y}
}
