package server

import (
	"errors"
	"sync"
	"time"
)

var (
	errClosing        = errors.New("server is shutting down")
	errTooManyClients = errors.New("connection limit reached")
)

// hub tracks the live connections so shutdown can drain them.
type hub struct {
	mu       sync.Mutex
	conns    map[*conn]struct{}
	maxConns int
	closing  bool
	wg       sync.WaitGroup
}

func newHub(maxConns int) *hub {
	return &hub{
		conns:    make(map[*conn]struct{}),
		maxConns: maxConns,
	}
}

// track reserves a slot for c. It fails once shutdown started or when the
// connection limit is reached.
func (h *hub) track(c *conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return errClosing
	}
	if h.maxConns > 0 && len(h.conns) >= h.maxConns {
		return errTooManyClients
	}
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	return nil
}

func (h *hub) untrack(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		h.wg.Done()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// drain rejects new connections and asks every live one to finish its current
// request and close.
func (h *hub) drain() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closing = true
	for c := range h.conns {
		c.drain()
	}
}

// wait blocks until every tracked connection is gone or timeout elapses.
// It reports whether all connections finished.
func (h *hub) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// closeAll force-closes every remaining connection.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		c.close()
	}
}
