package coordinator

import (
	"fmt"
	"log/slog"
	"sync"
)

// notifier delivers callbacks in order on its own goroutine so that slow
// or re-entrant callbacks never stall the event loop.
type notifier struct {
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
}

func newNotifier(logger *slog.Logger) *notifier {
	n := &notifier{logger: logger}
	n.cond = sync.NewCond(&n.mu)
	return n
}

func (n *notifier) push(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, fn)
	n.cond.Signal()
}

// close stops accepting callbacks; run returns once the queue is drained.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.cond.Broadcast()
	n.mu.Unlock()
}

func (n *notifier) run() {
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		fn := n.queue[0]
		n.queue[0] = nil
		n.queue = n.queue[1:]
		n.mu.Unlock()

		n.invoke(fn)
	}
}

func (n *notifier) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
