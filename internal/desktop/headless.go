package desktop

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"
	"time"
)

// Event records one primitive executed by the Headless backend.
type Event struct {
	Op     string
	Point  Point
	Button Button
	Keys   []string
	Text   string
	Amount int
}

// HeadlessOptions configures a Headless desktop.
type HeadlessOptions struct {
	Width    int
	Height   int
	FailSafe bool
	// Pause is slept after every primitive.
	Pause time.Duration
}

// Headless is an in-memory Desktop. It tracks pointer position and held keys,
// renders blank screenshots at the configured geometry and records every
// primitive for inspection.
type Headless struct {
	opts HeadlessOptions

	mu     sync.Mutex
	pos    Point
	held   map[string]bool
	events []Event
}

// NewHeadless creates a Headless desktop with the pointer at the screen center.
func NewHeadless(opts HeadlessOptions) *Headless {
	if opts.Width <= 0 {
		opts.Width = 1920
	}
	if opts.Height <= 0 {
		opts.Height = 1080
	}
	return &Headless{
		opts: opts,
		pos:  Point{X: opts.Width / 2, Y: opts.Height / 2},
		held: make(map[string]bool),
	}
}

// Size returns the screen geometry.
func (h *Headless) Size() (int, int) {
	return h.opts.Width, h.opts.Height
}

// Position returns the current pointer position.
func (h *Headless) Position() Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Events returns a copy of the recorded primitives.
func (h *Headless) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

// Held reports whether key is currently held down.
func (h *Headless) Held(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held[strings.ToLower(key)]
}

func (h *Headless) MoveTo(ctx context.Context, p Point, duration time.Duration) error {
	return h.run(ctx, duration, func() Event {
		h.pos = p
		return Event{Op: "move", Point: p}
	})
}

func (h *Headless) Click(ctx context.Context, button Button) error {
	return h.run(ctx, 0, func() Event {
		return Event{Op: "click", Point: h.pos, Button: button}
	})
}

func (h *Headless) Press(ctx context.Context, key string) error {
	return h.run(ctx, 0, func() Event {
		return Event{Op: "press", Keys: []string{key}}
	})
}

func (h *Headless) KeyDown(ctx context.Context, key string) error {
	return h.run(ctx, 0, func() Event {
		h.held[strings.ToLower(key)] = true
		return Event{Op: "keydown", Keys: []string{key}}
	})
}

func (h *Headless) KeyUp(ctx context.Context, key string) error {
	return h.run(ctx, 0, func() Event {
		delete(h.held, strings.ToLower(key))
		return Event{Op: "keyup", Keys: []string{key}}
	})
}

func (h *Headless) Hotkey(ctx context.Context, keys ...string) error {
	return h.run(ctx, 0, func() Event {
		return Event{Op: "hotkey", Keys: append([]string(nil), keys...)}
	})
}

func (h *Headless) TypeText(ctx context.Context, text string, interval time.Duration) error {
	return h.run(ctx, interval*time.Duration(len([]rune(text))), func() Event {
		return Event{Op: "type", Text: text}
	})
}

func (h *Headless) Scroll(ctx context.Context, clicks int) error {
	return h.run(ctx, 0, func() Event {
		return Event{Op: "scroll", Point: h.pos, Amount: clicks}
	})
}

func (h *Headless) DragTo(ctx context.Context, p Point, duration time.Duration, button Button) error {
	return h.run(ctx, duration, func() Event {
		h.pos = p
		return Event{Op: "dragto", Point: p, Button: button}
	})
}

func (h *Headless) DragRel(ctx context.Context, dx, dy int, duration time.Duration, button Button) error {
	return h.run(ctx, duration, func() Event {
		h.pos = Point{X: h.pos.X + dx, Y: h.pos.Y + dy}
		return Event{Op: "dragrel", Point: h.pos, Button: button}
	})
}

func (h *Headless) Screenshot(ctx context.Context, region image.Rectangle) (image.Image, error) {
	screen := image.Rect(0, 0, h.opts.Width, h.opts.Height)
	if region.Empty() {
		region = screen
	}
	region = region.Intersect(screen)
	if region.Empty() {
		return nil, fmt.Errorf("screenshot region is outside the screen")
	}

	if err := h.run(ctx, 0, func() Event {
		return Event{Op: "screenshot", Point: Point{X: region.Min.X, Y: region.Min.Y}, Amount: region.Dx() * region.Dy()}
	}); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 32, G: 32, B: 32, A: 255}}, image.Point{}, draw.Src)
	return img, nil
}

// run executes one primitive: fail-safe check, the state change, then the
// motion time and the configured pause.
func (h *Headless) run(ctx context.Context, motion time.Duration, apply func() Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	if h.opts.FailSafe && h.inCorner(h.pos) {
		h.mu.Unlock()
		return ErrFailSafe
	}
	h.events = append(h.events, apply())
	h.mu.Unlock()

	return sleep(ctx, motion+h.opts.Pause)
}

func (h *Headless) inCorner(p Point) bool {
	maxX, maxY := h.opts.Width-1, h.opts.Height-1
	return (p.X <= 0 || p.X >= maxX) && (p.Y <= 0 || p.Y >= maxY)
}
