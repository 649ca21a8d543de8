// Package shutdown provides the process-wide one-way shutdown flag.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/codefionn/deskrelay/internal/logger"
)

// Flag is set once and never cleared. Setting it from a signal handler, a
// control action or a test is the same operation.
type Flag struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

// NewFlag returns an unset flag.
func NewFlag() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Set marks the flag. Only the first call records its reason.
func (f *Flag) Set(reason string) {
	f.once.Do(func() {
		f.mu.Lock()
		f.reason = reason
		f.mu.Unlock()
		close(f.done)
	})
}

// IsSet reports whether Set has been called.
func (f *Flag) IsSet() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done is closed when the flag is set.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}

// Reason returns the reason passed to the first Set.
func (f *Flag) Reason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// NotifyOnSignals sets f when one of sigs arrives (SIGINT and SIGTERM when none
// are given). The returned function stops listening; it is also stopped when
// ctx is done or the flag is set by other means.
func NotifyOnSignals(ctx context.Context, f *Flag, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			logger.Info("Received %s, shutting down", sig)
			f.Set("signal: " + sig.String())
		case <-f.Done():
		case <-ctx.Done():
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
