package handlers

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/desktop"
)

// ScreenshotHandler captures the screen, or a region of it, into a PNG file
// in the handler context's output directory.
type ScreenshotHandler struct {
	Desktop desktop.Desktop
	// Now is used for the default file name; nil means time.Now.
	Now func() time.Time
}

func (h *ScreenshotHandler) Handle(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
	name, err := h.fileName(msg)
	if err != nil {
		return nil, err
	}
	region, err := screenshotRegion(msg)
	if err != nil {
		return nil, err
	}

	dir := "."
	if hctx != nil && hctx.OutputDir != "" {
		dir = hctx.OutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}

	img, err := h.Desktop.Screenshot(ctx, region)
	if err != nil {
		return nil, err
	}
	if err := writePNG(path, img); err != nil {
		return nil, err
	}
	return map[string]interface{}{"saved": path}, nil
}

func (h *ScreenshotHandler) fileName(msg action.Message) (string, error) {
	name, ok := msg.String("name")
	if !ok || name == "" {
		now := time.Now
		if h.Now != nil {
			now = h.Now
		}
		return "snap_" + now().Format("20060102_150405") + ".png", nil
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", action.InvalidParams("Invalid screenshot name %q", name)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".png") {
		name += ".png"
	}
	return name, nil
}

// screenshotRegion reads the optional [x, y, width, height] region.
func screenshotRegion(msg action.Message) (image.Rectangle, error) {
	if !msg.Has("region") {
		return image.Rectangle{}, nil
	}
	r, ok := msg.Ints("region")
	if !ok || len(r) != 4 {
		return image.Rectangle{}, action.InvalidParams("'region' must be [x, y, width, height]")
	}
	if r[2] <= 0 || r[3] <= 0 {
		return image.Rectangle{}, action.InvalidParams("'region' width and height must be positive")
	}
	return image.Rect(r[0], r[1], r[0]+r[2], r[1]+r[3]), nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create screenshot file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode screenshot: %w", err)
	}
	return f.Close()
}
