package handlers

import (
	"context"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/desktop"
)

// MoveHandler moves the pointer to an absolute position.
type MoveHandler struct {
	Desktop desktop.Desktop
}

func (h *MoveHandler) Handle(ctx context.Context, msg action.Message, _ *action.Context) (interface{}, error) {
	p, err := point(msg)
	if err != nil {
		return nil, err
	}
	duration, err := seconds(msg, "duration", 0)
	if err != nil {
		return nil, err
	}

	target := clamped(h.Desktop, p)
	if err := h.Desktop.MoveTo(ctx, target, duration); err != nil {
		return nil, err
	}
	return map[string]interface{}{"moved_to": pair(target)}, nil
}

// ClickHandler clicks a button, optionally moving to x/y first.
type ClickHandler struct {
	Desktop desktop.Desktop
}

func (h *ClickHandler) Handle(ctx context.Context, msg action.Message, _ *action.Context) (interface{}, error) {
	b, err := button(msg)
	if err != nil {
		return nil, err
	}
	p, ok, err := optionalPoint(msg)
	if err != nil {
		return nil, err
	}

	var clicked interface{}
	if ok {
		target := clamped(h.Desktop, p)
		if err := h.Desktop.MoveTo(ctx, target, 0); err != nil {
			return nil, err
		}
		clicked = pair(target)
	} else {
		// no coordinates: click where the pointer is, report them as null
		clicked = []interface{}{nil, nil}
	}

	if err := h.Desktop.Click(ctx, b); err != nil {
		return nil, err
	}
	return map[string]interface{}{"clicked": clicked, "button": string(b)}, nil
}

// ScrollHandler scrolls the wheel, optionally moving to x/y first.
type ScrollHandler struct {
	Desktop desktop.Desktop
}

func (h *ScrollHandler) Handle(ctx context.Context, msg action.Message, _ *action.Context) (interface{}, error) {
	clicks, err := msg.IntOr("clicks", 0)
	if err != nil {
		return nil, action.InvalidParams("%v", err)
	}
	p, ok, err := optionalPoint(msg)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := h.Desktop.MoveTo(ctx, p, 0); err != nil {
			return nil, err
		}
	}
	if err := h.Desktop.Scroll(ctx, clicks); err != nil {
		return nil, err
	}
	return map[string]interface{}{"scrolled": clicks}, nil
}

// DragToHandler drags to an absolute position with a button held.
type DragToHandler struct {
	Desktop desktop.Desktop
}

func (h *DragToHandler) Handle(ctx context.Context, msg action.Message, _ *action.Context) (interface{}, error) {
	p, err := point(msg)
	if err != nil {
		return nil, err
	}
	duration, err := seconds(msg, "duration", 0)
	if err != nil {
		return nil, err
	}
	b, err := button(msg)
	if err != nil {
		return nil, err
	}

	target := clamped(h.Desktop, p)
	if err := h.Desktop.DragTo(ctx, target, duration, b); err != nil {
		return nil, err
	}
	return map[string]interface{}{"dragged_to": pair(target), "button": string(b)}, nil
}

// DragRelHandler drags by an offset from the current pointer position.
type DragRelHandler struct {
	Desktop desktop.Desktop
}

func (h *DragRelHandler) Handle(ctx context.Context, msg action.Message, _ *action.Context) (interface{}, error) {
	offset, err := point(msg)
	if err != nil {
		return nil, err
	}
	duration, err := seconds(msg, "duration", 0)
	if err != nil {
		return nil, err
	}
	b, err := button(msg)
	if err != nil {
		return nil, err
	}

	if err := h.Desktop.DragRel(ctx, offset.X, offset.Y, duration, b); err != nil {
		return nil, err
	}
	return map[string]interface{}{"dragged_rel": pair(offset), "button": string(b)}, nil
}
