// Package desktop abstracts the pointer, keyboard and screen primitives the
// built-in action handlers drive. Real OS backends live behind the Desktop
// interface; Headless is an in-memory backend used when no display is attached
// and in tests.
package desktop

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrFailSafe is returned when the pointer is moved into a screen corner while
// the fail-safe is enabled. Operators abort a runaway client this way.
var ErrFailSafe = errors.New("fail-safe triggered: pointer moved to a screen corner")

// Button names a mouse button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// ParseButton validates a button name.
func ParseButton(name string) (Button, bool) {
	switch Button(name) {
	case ButtonLeft, ButtonRight, ButtonMiddle:
		return Button(name), true
	default:
		return "", false
	}
}

// Point is a screen coordinate.
type Point struct {
	X int
	Y int
}

// Desktop is the set of automation primitives. Every method may block; duration
// and interval arguments describe how long the motion or typing should take.
type Desktop interface {
	Size() (width, height int)
	Position() Point
	MoveTo(ctx context.Context, p Point, duration time.Duration) error
	Click(ctx context.Context, button Button) error
	Press(ctx context.Context, key string) error
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
	Hotkey(ctx context.Context, keys ...string) error
	TypeText(ctx context.Context, text string, interval time.Duration) error
	Scroll(ctx context.Context, clicks int) error
	DragTo(ctx context.Context, p Point, duration time.Duration, button Button) error
	DragRel(ctx context.Context, dx, dy int, duration time.Duration, button Button) error
	// Screenshot captures the whole screen, or region when it is non-empty.
	Screenshot(ctx context.Context, region image.Rectangle) (image.Image, error)
}

// Clamp keeps p one pixel away from every screen edge: x in [1, width-2],
// y in [1, height-2]. Corners stay reserved for the fail-safe.
func Clamp(p Point, width, height int) Point {
	return Point{
		X: clampInt(p.X, 1, width-2),
		Y: clampInt(p.Y, 1, height-2),
	}
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
