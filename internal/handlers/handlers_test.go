package handlers

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/desktop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) action.Message {
	t.Helper()
	msg, err := action.Decode([]byte(raw))
	require.NoError(t, err)
	return msg
}

func requireInvalidParams(t *testing.T, err error) {
	t.Helper()
	var failure *action.Failure
	require.True(t, errors.As(err, &failure), "expected *action.Failure, got %v", err)
	assert.Equal(t, action.CodeInvalidParams, failure.Code)
}

// TestMoveClampsToScreen tests that targets outside the screen are clamped
func TestMoveClampsToScreen(t *testing.T) {
	d := desktop.NewHeadless(desktop.HeadlessOptions{Width: 1920, Height: 1080})
	h := &MoveHandler{Desktop: d}

	result, err := h.Handle(context.Background(), decode(t, `{"action":"move","x":-5,"y":99999}`), &action.Context{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"moved_to": []int{1, 1078}}, result)
	assert.Equal(t, desktop.Point{X: 1, Y: 1078}, d.Position())
}

func TestMoveRequiresCoordinates(t *testing.T) {
	h := &MoveHandler{Desktop: desktop.NewHeadless(desktop.HeadlessOptions{})}

	_, err := h.Handle(context.Background(), decode(t, `{"action":"move","x":5}`), nil)
	requireInvalidParams(t, err)

	_, err = h.Handle(context.Background(), decode(t, `{"action":"move","x":5,"y":"abc"}`), nil)
	requireInvalidParams(t, err)

	_, err = h.Handle(context.Background(), decode(t, `{"action":"move","x":5,"y":5,"duration":-1}`), nil)
	requireInvalidParams(t, err)
}

func TestClick(t *testing.T) {
	d := desktop.NewHeadless(desktop.HeadlessOptions{Width: 800, Height: 600})
	h := &ClickHandler{Desktop: d}

	result, err := h.Handle(context.Background(), decode(t, `{"x":100,"y":200,"button":"right"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"clicked": []int{100, 200}, "button": "right"}, result)

	result, err = h.Handle(context.Background(), decode(t, `{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "left", result.(map[string]interface{})["button"])
	assert.Equal(t, []interface{}{nil, nil}, result.(map[string]interface{})["clicked"])

	_, err = h.Handle(context.Background(), decode(t, `{"button":"thumb"}`), nil)
	requireInvalidParams(t, err)

	events := d.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "click", events[2].Op)
	assert.Equal(t, desktop.Point{X: 100, Y: 200}, events[2].Point)
}

func TestKeyboardHandlers(t *testing.T) {
	ctx := context.Background()
	d := desktop.NewHeadless(desktop.HeadlessOptions{})

	result, err := (&PressHandler{Desktop: d}).Handle(ctx, decode(t, `{"key":"enter"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"pressed": "enter"}, result)

	result, err = (&PressHandler{Desktop: d}).Handle(ctx, decode(t, `{"key":1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"pressed": "1"}, result)

	_, err = (&PressHandler{Desktop: d}).Handle(ctx, decode(t, `{}`), nil)
	requireInvalidParams(t, err)

	result, err = (&KeyDownHandler{Desktop: d}).Handle(ctx, decode(t, `{"key":"shift"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"keydown": "shift"}, result)
	assert.True(t, d.Held("shift"))

	result, err = (&TypeHandler{Desktop: d}).Handle(ctx, decode(t, `{"text":"hi","interval":0}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"typed": "hi"}, result)

	_, err = (&TypeHandler{Desktop: d}).Handle(ctx, decode(t, `{"text":""}`), nil)
	requireInvalidParams(t, err)
}

func TestHotkey(t *testing.T) {
	d := desktop.NewHeadless(desktop.HeadlessOptions{})
	h := &HotkeyHandler{Desktop: d}

	result, err := h.Handle(context.Background(), decode(t, `{"keys":["ctrl","shift","esc"]}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"message": "Pressed hotkey: ctrl+shift+esc"}, result)

	events := d.Events()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"ctrl", "shift", "esc"}, events[0].Keys)

	for _, raw := range []string{`{}`, `{"keys":[]}`, `{"keys":"ctrl"}`, `{"keys":["ctrl",2]}`, `{"keys":["ctrl"," "]}`} {
		_, err := h.Handle(context.Background(), decode(t, raw), nil)
		requireInvalidParams(t, err)
	}
}

func TestScrollAndDrag(t *testing.T) {
	ctx := context.Background()
	d := desktop.NewHeadless(desktop.HeadlessOptions{Width: 1000, Height: 800})

	result, err := (&ScrollHandler{Desktop: d}).Handle(ctx, decode(t, `{"clicks":-3,"x":10,"y":10}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"scrolled": -3}, result)
	assert.Equal(t, desktop.Point{X: 10, Y: 10}, d.Position())

	result, err = (&DragToHandler{Desktop: d}).Handle(ctx, decode(t, `{"x":5000,"y":20}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"dragged_to": []int{998, 20}, "button": "left"}, result)

	result, err = (&DragRelHandler{Desktop: d}).Handle(ctx, decode(t, `{"x":-100,"y":30,"button":"middle"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"dragged_rel": []int{-100, 30}, "button": "middle"}, result)
	assert.Equal(t, desktop.Point{X: 898, Y: 50}, d.Position())
}

func TestFailSafeSurfacesAsError(t *testing.T) {
	ctx := context.Background()
	d := desktop.NewHeadless(desktop.HeadlessOptions{Width: 800, Height: 600, FailSafe: true})
	require.NoError(t, d.MoveTo(ctx, desktop.Point{X: 0, Y: 0}, 0))

	_, err := (&PressHandler{Desktop: d}).Handle(ctx, decode(t, `{"key":"a"}`), nil)
	assert.ErrorIs(t, err, desktop.ErrFailSafe)
}

func TestScreenshot(t *testing.T) {
	dir := t.TempDir()
	d := desktop.NewHeadless(desktop.HeadlessOptions{Width: 64, Height: 48})
	h := &ScreenshotHandler{
		Desktop: d,
		Now:     func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) },
	}
	hctx := &action.Context{OutputDir: dir}

	result, err := h.Handle(context.Background(), decode(t, `{}`), hctx)
	require.NoError(t, err)
	saved := result.(map[string]interface{})["saved"].(string)
	assert.Equal(t, filepath.Join(dir, "snap_20240309_140507.png"), saved)

	f, err := os.Open(saved)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	result, err = h.Handle(context.Background(), decode(t, `{"name":"part","region":[0,0,10,5]}`), hctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "part.png"), result.(map[string]interface{})["saved"])

	_, err = h.Handle(context.Background(), decode(t, `{"name":"../escape.png"}`), hctx)
	requireInvalidParams(t, err)

	_, err = h.Handle(context.Background(), decode(t, `{"region":[0,0,10]}`), hctx)
	requireInvalidParams(t, err)
}

func TestDiscoverer(t *testing.T) {
	entries, err := Discoverer(desktop.NewHeadless(desktop.HeadlessOptions{})).Discover(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		assert.Equal(t, SourceBuiltin, e.Source)
		assert.NotNil(t, e.Handler)
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"click", "dragrel", "dragto", "hotkey", "keydown", "move", "press", "screenshot", "scroll", "type"}, names)
}
