package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/codefionn/deskrelay/internal/logger"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// conn serves one WebSocket connection. Messages are handled strictly in
// order: one frame is read, dispatched and answered before the next read.
type conn struct {
	id      string
	srv     *Server
	limiter *rate.Limiter
	log     *logger.Logger

	// ws is set once the upgrade succeeded.
	ws *websocket.Conn

	mu       sync.Mutex
	busy     bool
	draining bool
}

// serve runs the read-dispatch-write loop until the peer goes away, the
// transport fails or the connection is drained.
func (c *conn) serve(ctx context.Context) {
	defer func() {
		c.ws.Close()
		c.srv.hub.untrack(c)
		c.log.Info("Connection closed (active: %d)", c.srv.hub.count())
	}()

	c.ws.SetReadLimit(c.srv.opts.MaxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.draining {
			return nil
		}
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPings := make(chan struct{})
	defer close(stopPings)
	go c.pingLoop(stopPings)

	for {
		c.mu.Lock()
		if c.draining {
			c.mu.Unlock()
			c.goAway()
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.mu.Unlock()

		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if c.isDraining() {
				c.goAway()
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("WebSocket read error: %v", err)
			} else {
				c.log.Debug("WebSocket read ended: %v", err)
			}
			return
		}

		c.setBusy(true)
		err = c.handle(ctx, frame)
		c.setBusy(false)
		if err != nil {
			c.log.Warn("Failed to write response: %v", err)
			return
		}
	}
}

// handle dispatches one frame and writes its envelope.
func (c *conn) handle(ctx context.Context, frame []byte) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	resp := c.srv.opts.Dispatcher.DispatchFrame(ctx, c.id, frame)

	data, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("Failed to marshal response: %v", err)
		data, _ = json.Marshal(action.Err(action.CodeExecutionError, map[string]interface{}{
			"exception":   "failed to encode result: " + err.Error(),
			"stack_trace": "",
		}))
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("ping failed: %v", err)
				return
			}
		}
	}
}

func (c *conn) setBusy(busy bool) {
	c.mu.Lock()
	c.busy = busy
	c.mu.Unlock()
}

func (c *conn) isDraining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// drain asks the loop to stop after the request in flight. An idle
// connection is woken from its blocking read immediately.
func (c *conn) drain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.draining = true
	if c.ws != nil && !c.busy {
		_ = c.ws.SetReadDeadline(time.Now())
	}
}

// goAway sends the close frame telling the peer the server is going away.
func (c *conn) goAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.log.Debug("failed to send close frame: %v", err)
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		c.ws.Close()
	}
}
