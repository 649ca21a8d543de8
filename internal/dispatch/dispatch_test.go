package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/desktop"
	"github.com/codefionn/deskrelay/internal/handlers"
	"github.com/codefionn/deskrelay/internal/journal"
	"github.com/codefionn/deskrelay/internal/registry"
	"github.com/codefionn/deskrelay/internal/securemem"
	"github.com/codefionn/deskrelay/internal/shutdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "T"

// catalog is a mutable set of handlers exposed through a Discoverer.
type catalog struct {
	mu       sync.Mutex
	handlers map[string]action.Handler
	fail     error
}

func (c *catalog) set(name string, h action.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = h
}

func (c *catalog) Discover(ctx context.Context) ([]registry.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	var entries []registry.Entry
	for name, h := range c.handlers {
		entries = append(entries, registry.Entry{Name: name, Handler: h, Source: "test"})
	}
	return entries, nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memJournal) Record(ctx context.Context, e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

type fixture struct {
	d       *Dispatcher
	cat     *catalog
	reg     *registry.Registry
	flag    *shutdown.Flag
	journal *memJournal
	calls   *int32
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()

	var calls int32
	cat := &catalog{handlers: map[string]action.Handler{
		"x": action.HandlerFunc(func(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return map[string]interface{}{"foo": 1}, nil
		}),
	}}
	reg := registry.New([]registry.Discoverer{cat}, registry.WithReserved(ControlActions...))
	_, err := reg.Reload(context.Background())
	require.NoError(t, err)

	flag := shutdown.NewFlag()
	j := &memJournal{}
	d := New(Options{
		Secret:         securemem.NewString(testToken),
		Registry:       reg,
		Shutdown:       flag,
		HandlerContext: &action.Context{OutputDir: t.TempDir()},
		Timeout:        timeout,
		Journal:        j,
	})
	return &fixture{d: d, cat: cat, reg: reg, flag: flag, journal: j, calls: &calls}
}

func marshal(t *testing.T, resp *action.Response) string {
	t.Helper()
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	return string(data)
}

func frame(t *testing.T, f *fixture, raw string) *action.Response {
	t.Helper()
	return f.d.DispatchFrame(context.Background(), "conn-1", []byte(raw))
}

// TestUnauthorized tests that a bad or missing token never reaches any handler
func TestUnauthorized(t *testing.T) {
	f := newFixture(t, 0)
	genBefore := f.reg.Current().Number

	for _, raw := range []string{
		`{"action":"x"}`,
		`{"token":"wrong","action":"x"}`,
		`{"token":"t","action":"x"}`,
		`{"token":1,"action":"x"}`,
		`{"token":"T ","action":"reload"}`,
		`{"action":"shutdown"}`,
	} {
		resp := frame(t, f, raw)
		assert.JSONEq(t, `{"status":"error","error":{"message":"unauthorized"}}`, marshal(t, resp), raw)
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(f.calls))
	assert.False(t, f.flag.IsSet())
	assert.Equal(t, genBefore, f.reg.Current().Number)
}

func TestInvalidAction(t *testing.T) {
	f := newFixture(t, 0)

	for _, raw := range []string{
		`{"token":"T"}`,
		`{"token":"T","action":""}`,
		`{"token":"T","action":5}`,
		`{"token":"T","action":null}`,
	} {
		resp := frame(t, f, raw)
		assert.Equal(t, action.CodeInvalidAction, resp.Code(), raw)
	}
}

func TestInvalidJSON(t *testing.T) {
	f := newFixture(t, 0)

	resp := frame(t, f, `{not json`)
	assert.Equal(t, action.CodeInvalidJSON, resp.Code())

	resp = frame(t, f, `[1,2,3]`)
	assert.Equal(t, action.CodeInvalidJSON, resp.Code())
	assert.Equal(t, "expected a JSON object", resp.Error.Details)
}

// TestRoundTrip tests that a plain handler result is wrapped in an ok envelope
func TestRoundTrip(t *testing.T) {
	f := newFixture(t, 0)

	resp := frame(t, f, `{"token":"T","action":"x"}`)
	assert.JSONEq(t, `{"status":"ok","result":{"foo":1}}`, marshal(t, resp))
	assert.Equal(t, int32(1), atomic.LoadInt32(f.calls))
}

func TestUnsupportedActionUntilReload(t *testing.T) {
	f := newFixture(t, 0)

	resp := frame(t, f, `{"token":"T","action":"greet"}`)
	assert.Equal(t, action.CodeUnsupportedAction, resp.Code())
	assert.Equal(t, "Action 'greet' not supported", resp.Error.Details)

	f.cat.set("greet", action.HandlerFunc(func(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
		return "hello", nil
	}))

	resp = frame(t, f, `{"token":"T","action":"greet"}`)
	assert.Equal(t, action.CodeUnsupportedAction, resp.Code())

	resp = frame(t, f, `{"token":"T","action":"reload"}`)
	require.True(t, resp.IsOK())
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, "Handlers reloaded", result["message"])
	assert.Equal(t, 2, result["count"])
	assert.Equal(t, uint64(2), result["generation"])
	assert.Len(t, result["fingerprint"], 16)

	resp = frame(t, f, `{"token":"T","action":"greet"}`)
	assert.JSONEq(t, `{"status":"ok","result":"hello"}`, marshal(t, resp))
}

func TestReloadFailureKeepsTable(t *testing.T) {
	f := newFixture(t, 0)

	f.cat.mu.Lock()
	f.cat.fail = errors.New("broken plugin")
	f.cat.mu.Unlock()

	resp := frame(t, f, `{"token":"T","action":"reload"}`)
	assert.Equal(t, action.CodeReloadFailed, resp.Code())
	details := resp.Error.Details.(map[string]interface{})
	assert.Contains(t, details["exception"], "broken plugin")
	assert.Contains(t, details, "stack_trace")

	resp = frame(t, f, `{"token":"T","action":"x"}`)
	assert.True(t, resp.IsOK())
}

func TestControlActionsCannotBeShadowed(t *testing.T) {
	f := newFixture(t, 0)

	var shadowCalls int32
	f.cat.set("shutdown", action.HandlerFunc(func(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
		atomic.AddInt32(&shadowCalls, 1)
		return nil, nil
	}))
	require.True(t, frame(t, f, `{"token":"T","action":"reload"}`).IsOK())

	resp := frame(t, f, `{"token":"T","action":"shutdown"}`)
	assert.JSONEq(t, `{"status":"ok","result":{"message":"Shutting down"}}`, marshal(t, resp))
	assert.True(t, f.flag.IsSet())
	assert.Equal(t, int32(0), atomic.LoadInt32(&shadowCalls))

	// the flag is idempotent and the dispatcher keeps answering
	resp = frame(t, f, `{"token":"T","action":"shutdown"}`)
	assert.True(t, resp.IsOK())
}

func TestHandlerFailures(t *testing.T) {
	f := newFixture(t, 0)
	f.cat.set("boom", action.HandlerFunc(func(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
		return nil, errors.New("disk on fire")
	}))
	f.cat.set("panic", action.HandlerFunc(func(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
		panic("bad index")
	}))
	f.cat.set("params", action.HandlerFunc(func(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
		return nil, action.InvalidParams("Requires 'x' and 'y'")
	}))
	f.cat.set("envelope", action.HandlerFunc(func(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
		return map[string]interface{}{"status": "error", "error": map[string]interface{}{"message": "custom"}}, nil
	}))
	require.True(t, frame(t, f, `{"token":"T","action":"reload"}`).IsOK())

	resp := frame(t, f, `{"token":"T","action":"boom"}`)
	assert.Equal(t, action.CodeExecutionError, resp.Code())
	assert.Equal(t, "disk on fire", resp.Error.Details.(map[string]interface{})["exception"])

	resp = frame(t, f, `{"token":"T","action":"panic"}`)
	assert.Equal(t, action.CodeExecutionError, resp.Code())
	details := resp.Error.Details.(map[string]interface{})
	assert.Contains(t, details["exception"], "bad index")
	assert.Contains(t, details["stack_trace"], "goroutine")

	resp = frame(t, f, `{"token":"T","action":"params"}`)
	assert.JSONEq(t, `{"status":"error","error":{"message":"invalid_params","details":"Requires 'x' and 'y'"}}`, marshal(t, resp))

	resp = frame(t, f, `{"token":"T","action":"envelope"}`)
	assert.JSONEq(t, `{"status":"error","error":{"message":"custom"}}`, marshal(t, resp))
}

func TestHandlerTimeout(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	f.cat.set("slow", action.HandlerFunc(func(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		return "late", nil
	}))
	require.True(t, frame(t, f, `{"token":"T","action":"reload"}`).IsOK())

	start := time.Now()
	resp := frame(t, f, `{"token":"T","action":"slow"}`)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, action.CodeExecutionError, resp.Code())
	assert.Equal(t, "handler timed out after 50ms", resp.Error.Details.(map[string]interface{})["exception"])
}

func TestHandlerSeesContext(t *testing.T) {
	f := newFixture(t, 0)
	var got *action.Context
	var gotMsg action.Message
	f.cat.set("ctx", action.HandlerFunc(func(ctx context.Context, msg action.Message, hctx *action.Context) (interface{}, error) {
		got = hctx
		gotMsg = msg
		return nil, nil
	}))
	require.True(t, frame(t, f, `{"token":"T","action":"reload"}`).IsOK())

	resp := frame(t, f, `{"token":"T","action":"ctx","x":3}`)
	assert.JSONEq(t, `{"status":"ok","result":{}}`, marshal(t, resp))
	require.NotNil(t, got)
	assert.NotEmpty(t, got.OutputDir)
	assert.Equal(t, float64(3), gotMsg["x"])
}

func TestJournalRecordsEveryMessage(t *testing.T) {
	f := newFixture(t, 0)

	frame(t, f, `{"token":"T","action":"x"}`)
	frame(t, f, `{"token":"nope","action":"x"}`)
	frame(t, f, `oops`)

	f.journal.mu.Lock()
	defer f.journal.mu.Unlock()
	require.Len(t, f.journal.entries, 3)

	assert.Equal(t, "x", f.journal.entries[0].Action)
	assert.Equal(t, action.StatusOK, f.journal.entries[0].Status)
	assert.Equal(t, uint64(1), f.journal.entries[0].Generation)
	assert.Equal(t, "conn-1", f.journal.entries[0].ConnID)

	assert.Equal(t, action.CodeUnauthorized, f.journal.entries[1].ErrorCode)
	assert.Equal(t, action.CodeInvalidJSON, f.journal.entries[2].ErrorCode)
}

// TestConcurrentReloadAndDispatch tests that dispatch keeps working while the table is swapped
func TestConcurrentReloadAndDispatch(t *testing.T) {
	f := newFixture(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			f.d.DispatchFrame(ctx, "reloader", []byte(`{"token":"T","action":"reload"}`))
		}
	}()

	for i := 0; i < 200; i++ {
		resp := frame(t, f, `{"token":"T","action":"x"}`)
		require.True(t, resp.IsOK())
	}
	cancel()
	wg.Wait()
}

func TestDispatchBuiltinMoveClampsToScreen(t *testing.T) {
	desk := desktop.NewHeadless(desktop.HeadlessOptions{Width: 1920, Height: 1080, FailSafe: true})
	reg := registry.New([]registry.Discoverer{handlers.Discoverer(desk)}, registry.WithReserved(ControlActions...))
	_, err := reg.Reload(context.Background())
	require.NoError(t, err)

	d := New(Options{
		Secret:         securemem.NewString(testToken),
		Registry:       reg,
		Shutdown:       shutdown.NewFlag(),
		HandlerContext: &action.Context{OutputDir: t.TempDir()},
	})

	resp := d.DispatchFrame(context.Background(), "c1", []byte(`{"token":"T","action":"move","x":-5,"y":99999}`))
	assert.JSONEq(t, `{"status":"ok","result":{"moved_to":[1,1078]}}`, marshal(t, resp))
	assert.Equal(t, desktop.Point{X: 1, Y: 1078}, desk.Position())
}
