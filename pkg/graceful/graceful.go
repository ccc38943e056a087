package graceful

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Callback is invoked during shutdown in reverse registration order.
type Callback func(ctx context.Context) error

var (
	mu        sync.Mutex
	callbacks []Callback
	timeout   = 30 * time.Second
)

// AddCallback registers fn to run on shutdown. Callbacks run LIFO so that
// resources are released in the opposite order of acquisition.
func AddCallback(fn Callback) {
	mu.Lock()
	defer mu.Unlock()
	callbacks = append(callbacks, fn)
}

// WaitShutdown blocks until SIGINT or SIGTERM, then runs registered
// callbacks. The first callback error is returned after all callbacks
// have been attempted.
func WaitShutdown() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return ShutdownNow()
}

// ShutdownNow runs registered callbacks without waiting for a signal.
func ShutdownNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	mu.Lock()
	cbs := make([]Callback, len(callbacks))
	copy(cbs, callbacks)
	callbacks = nil
	mu.Unlock()

	var firstErr error
	for i := len(cbs) - 1; i >= 0; i-- {
		if err := cbs[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
