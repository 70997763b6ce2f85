// Package permission decides whether a peer may receive a requested file.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

var ErrAlreadyAsked = errors.New("permission already requested for operation")

type Request struct {
	Operation operation.ID
	Peer      transport.Peer
	FileID    string
}

// Func answers a permission request. It may block until the user decides;
// ctx is cancelled when the operation is cancelled or the timeout expires.
type Func func(ctx context.Context, req Request) bool

type Negotiator struct {
	logger  *slog.Logger
	timeout time.Duration

	mu    sync.RWMutex
	fn    Func
	asked map[operation.ID]struct{}
}

// NewNegotiator returns a Negotiator that allows everything until a Func is
// registered. A zero timeout waits for the Func indefinitely.
func NewNegotiator(timeout time.Duration, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		logger:  logger,
		timeout: timeout,
		asked:   make(map[operation.ID]struct{}),
	}
}

// SetFunc replaces the registered decision function. nil restores the
// default allow policy.
func (n *Negotiator) SetFunc(fn Func) {
	n.mu.Lock()
	n.fn = fn
	n.mu.Unlock()
}

// Authorize asks once per operation. A cancelled context or an expired
// timeout is a deny, returned together with the context error. An
// operation whose context is already done is neither recorded nor shown
// to the Func.
func (n *Negotiator) Authorize(ctx context.Context, req Request) (bool, error) {
	n.mu.Lock()
	// Forget runs after the operation's context is cancelled, so checking
	// under the lock keeps a late Authorize from recording a dead operation.
	if err := ctx.Err(); err != nil {
		n.mu.Unlock()
		return false, err
	}
	if _, ok := n.asked[req.Operation]; ok {
		n.mu.Unlock()
		return false, ErrAlreadyAsked
	}
	n.asked[req.Operation] = struct{}{}
	fn := n.fn
	n.mu.Unlock()

	if fn == nil {
		return true, nil
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	answer := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error("Permission handler panicked", "operation", req.Operation, "panic", fmt.Sprint(r))
				answer <- false
			}
		}()
		answer <- fn(ctx, req)
	}()

	select {
	case allowed := <-answer:
		return allowed, nil
	case <-ctx.Done():
		n.logger.Debug("Permission request abandoned", "operation", req.Operation, "error", ctx.Err())
		return false, ctx.Err()
	}
}

// Forget drops the record of an operation once it is terminal. Callers
// cancel the context passed to Authorize before forgetting.
func (n *Negotiator) Forget(id operation.ID) {
	n.mu.Lock()
	delete(n.asked, id)
	n.mu.Unlock()
}
