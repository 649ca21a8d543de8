// Package dispatch turns one decoded message into exactly one response envelope.
//
// Per message the dispatcher authenticates, validates the action name, serves
// the control actions (reload, shutdown), resolves the handler in the current
// registry generation, invokes it and normalizes the outcome. Nothing it does
// can fail the connection: every outcome is an envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/journal"
	"github.com/codefionn/deskrelay/internal/logger"
	"github.com/codefionn/deskrelay/internal/registry"
	"github.com/codefionn/deskrelay/internal/securemem"
	"github.com/codefionn/deskrelay/internal/shutdown"
)

// Control action names. They are answered by the dispatcher itself and can
// never be provided by a handler.
const (
	ActionReload   = "reload"
	ActionShutdown = "shutdown"
)

// ControlActions lists the names reserved for the dispatcher.
var ControlActions = []string{ActionReload, ActionShutdown}

// Recorder stores one row per dispatched message. *journal.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options configures a Dispatcher.
type Options struct {
	Secret         *securemem.String
	Registry       *registry.Registry
	Shutdown       *shutdown.Flag
	HandlerContext *action.Context
	// Timeout bounds a single handler call; zero waits indefinitely.
	Timeout time.Duration
	// Journal is optional.
	Journal Recorder
}

// Dispatcher routes authenticated messages to handlers.
type Dispatcher struct {
	secret   *securemem.String
	registry *registry.Registry
	flag     *shutdown.Flag
	hctx     *action.Context
	timeout  time.Duration
	journal  Recorder
	log      *logger.Logger
}

// New creates a dispatcher. Secret, Registry and Shutdown are required.
func New(opts Options) *Dispatcher {
	hctx := opts.HandlerContext
	if hctx == nil {
		hctx = &action.Context{}
	}
	return &Dispatcher{
		secret:   opts.Secret,
		registry: opts.Registry,
		flag:     opts.Shutdown,
		hctx:     hctx,
		timeout:  opts.Timeout,
		journal:  opts.Journal,
		log:      logger.Global().WithPrefix("dispatch"),
	}
}

// DispatchFrame decodes one raw frame and dispatches it.
func (d *Dispatcher) DispatchFrame(ctx context.Context, connID string, frame []byte) *action.Response {
	msg, err := action.Decode(frame)
	if err != nil {
		d.log.Debug("[%s] invalid frame: %v", connID, err)
		var resp *action.Response
		if errors.Is(err, action.ErrNotObject) {
			resp = action.Err(action.CodeInvalidJSON, action.ErrNotObject.Error())
		} else {
			resp = action.Err(action.CodeInvalidJSON, err.Error())
		}
		d.record(connID, "", resp, 0)
		return resp
	}
	return d.Dispatch(ctx, connID, msg)
}

// Dispatch serves one decoded message.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, msg action.Message) *action.Response {
	start := time.Now()
	name, resp := d.dispatch(ctx, connID, msg)
	elapsed := time.Since(start)

	if resp.IsOK() {
		d.log.Debug("[%s] %s ok in %s", connID, name, elapsed)
	} else {
		d.log.Debug("[%s] %s failed with %s in %s", connID, name, resp.Code(), elapsed)
	}
	d.record(connID, name, resp, elapsed)
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, connID string, msg action.Message) (string, *action.Response) {
	// Authentication is terminal: nothing below runs for a bad token.
	if !d.secret.Equal(msg.Token()) {
		d.log.Warn("[%s] rejected message with invalid token", connID)
		return "", action.Err(action.CodeUnauthorized, nil)
	}

	name, ok := msg.Action()
	if !ok {
		return "", action.Err(action.CodeInvalidAction, "'action' must be a non-empty string")
	}

	switch name {
	case ActionReload:
		return name, d.reload(ctx)
	case ActionShutdown:
		d.log.Info("[%s] shutdown requested", connID)
		d.flag.Set("shutdown action")
		return name, action.OK(map[string]interface{}{"message": "Shutting down"})
	}

	handler, ok := d.registry.Resolve(name)
	if !ok {
		return name, action.Err(action.CodeUnsupportedAction, fmt.Sprintf("Action '%s' not supported", name))
	}
	return name, d.invoke(ctx, name, handler, msg)
}

func (d *Dispatcher) reload(ctx context.Context) *action.Response {
	gen, err := d.registry.Reload(ctx)
	if err != nil {
		d.log.Error("reload failed: %v", err)
		return action.Err(action.CodeReloadFailed, exception(err, errorTrace(err)))
	}
	d.log.Info("handlers reloaded: generation %d, %d actions", gen.Number, gen.Len())
	return action.OK(map[string]interface{}{
		"message":     "Handlers reloaded",
		"count":       gen.Len(),
		"generation":  gen.Number,
		"fingerprint": gen.FingerprintHex(),
	})
}

type outcome struct {
	result interface{}
	err    error
	stack  string
}

// invoke runs the handler on its own goroutine and waits for it, or for the
// timeout when one is configured. A timed-out handler keeps running in the
// background with a cancelled context.
func (d *Dispatcher) invoke(ctx context.Context, name string, h action.Handler, msg action.Message) *action.Response {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("handler %s panicked: %v", name, r)
				done <- outcome{err: fmt.Errorf("panic: %v", r), stack: string(debug.Stack())}
			}
		}()
		result, err := h.Handle(ctx, msg, d.hctx)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err := fmt.Errorf("handler timed out after %s", d.timeout)
			return action.Err(action.CodeExecutionError, exception(err, ""))
		}
		err := fmt.Errorf("handler cancelled: %w", ctx.Err())
		return action.Err(action.CodeExecutionError, exception(err, ""))
	}

	if out.err != nil {
		var failure *action.Failure
		if errors.As(out.err, &failure) {
			return failure.Response()
		}
		if out.stack == "" {
			out.stack = errorTrace(out.err)
		}
		d.log.Warn("handler %s failed: %v", name, out.err)
		return action.Err(action.CodeExecutionError, exception(out.err, out.stack))
	}
	return action.Normalize(out.result)
}

func (d *Dispatcher) record(connID, name string, resp *action.Response, elapsed time.Duration) {
	if d.journal == nil {
		return
	}

	var generation uint64
	if gen := d.registry.Current(); gen != nil {
		generation = gen.Number
	}
	e := journal.Entry{
		Time:       time.Now(),
		ConnID:     connID,
		Action:     name,
		Status:     resp.Status,
		Duration:   elapsed,
		Generation: generation,
	}
	if !resp.IsOK() {
		e.ErrorCode = resp.Code()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.journal.Record(ctx, e); err != nil {
		d.log.Warn("failed to journal dispatch: %v", err)
	}
}

func exception(err error, trace string) map[string]interface{} {
	return map[string]interface{}{
		"exception":   err.Error(),
		"stack_trace": trace,
	}
}

// errorTrace renders the wrap chain of err, outermost first.
func errorTrace(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%T: %s\n", e, e.Error())
	}
	return b.String()
}
