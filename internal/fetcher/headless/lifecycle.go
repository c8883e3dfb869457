package headless

import (
	"context"
	"fmt"
	"sync"
)

// lifecycleWaiter remembers every page lifecycle event so a waiter that
// subscribes after navigation started still sees events that already fired.
type lifecycleWaiter struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	notify chan struct{}
}

func newLifecycleWaiter() *lifecycleWaiter {
	return &lifecycleWaiter{
		seen:   make(map[string]struct{}),
		notify: make(chan struct{}),
	}
}

func lifecycleKey(loaderID, name string) string {
	return loaderID + "|" + name
}

func (w *lifecycleWaiter) record(loaderID, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[lifecycleKey(loaderID, name)] = struct{}{}
	w.seen[lifecycleKey("", name)] = struct{}{}
	close(w.notify)
	w.notify = make(chan struct{})
}

// wait blocks until name fired for loaderID. An empty loaderID matches any loader.
func (w *lifecycleWaiter) wait(ctx context.Context, loaderID, name string) error {
	key := lifecycleKey(loaderID, name)
	for {
		w.mu.Lock()
		_, ok := w.seen[key]
		ch := w.notify
		w.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", name, ctx.Err())
		}
	}
}
