// Package coordinator drives file operations through their lifecycle. All
// state changes happen on a single event-loop goroutine; transport
// notifications and caller requests are posted onto it as closures.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rudransh-shrivastava/nearby/internal/locator"
	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/rudransh-shrivastava/nearby/internal/permission"
	"github.com/rudransh-shrivastava/nearby/internal/protocol"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

var (
	ErrAlreadyRunning = errors.New("coordinator already running")
	ErrInvalidFileID  = errors.New("invalid file id")
	ErrRequestTimeout = errors.New("no peer offered the file in time")
	ErrStopped        = errors.New("coordinator stopped")
)

const eventBuffer = 256

var validate = validator.New()

// Transport is what the coordinator needs from the peer-to-peer layer.
// transport.Session implements it.
type Transport interface {
	Bind(h transport.Handler)
	Peers() []transport.Peer
	Request(peer transport.PeerID, req transport.RequestID, fileID string) error
	Decline(peer transport.PeerID, req transport.RequestID, code protocol.ErrorCode) error
	SendResource(peer transport.PeerID, req transport.RequestID, res transport.Resource,
		progress transport.ProgressFunc, done transport.DoneFunc) (transport.TransferID, error)
	Abort(id transport.TransferID) error
}

type Authorizer interface {
	Authorize(ctx context.Context, req permission.Request) (bool, error)
	Forget(id operation.ID)
}

type (
	ProgressFunc   func(v operation.View)
	CompletionFunc func(v operation.View)
	AggregateFunc  func(a operation.Aggregate)
)

// Observer receives progress and completion of one operation type.
type Observer interface {
	OnProgress(v operation.View)
	OnComplete(v operation.View)
}

type Config struct {
	Registry       *operation.Registry
	Transport      Transport
	Locator        locator.FileLocator
	Permissions    Authorizer
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

type callbacks struct {
	progress   ProgressFunc
	completion CompletionFunc
	aggregate  AggregateFunc
}

type Coordinator struct {
	registry *operation.Registry
	tr       Transport
	locator  locator.FileLocator
	perms    Authorizer
	logger   *slog.Logger
	timeout  time.Duration

	events    chan func()
	stopped   chan struct{}
	running   atomic.Bool
	listening atomic.Bool
	notify    *notifier

	cbMu      sync.RWMutex
	callbacks map[operation.Type]*callbacks

	// Owned by the event loop.
	ctx       context.Context
	uploads   map[operation.ID]*upload
	downloads map[operation.ID]*download
	incoming  map[transport.TransferID]operation.ID
	observers map[operation.ID]callbacks
}

func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = operation.NewRegistry(0)
	}
	if cfg.Permissions == nil {
		cfg.Permissions = permission.NewNegotiator(0, logger)
	}

	c := &Coordinator{
		registry: cfg.Registry,
		tr:       cfg.Transport,
		locator:  cfg.Locator,
		perms:    cfg.Permissions,
		logger:   logger,
		timeout:  cfg.RequestTimeout,
		events:   make(chan func(), eventBuffer),
		stopped:  make(chan struct{}),
		notify:   newNotifier(logger),
		callbacks: map[operation.Type]*callbacks{
			operation.Upload:   {},
			operation.Download: {},
		},
		ctx:       context.Background(),
		uploads:   make(map[operation.ID]*upload),
		downloads: make(map[operation.ID]*download),
		incoming:  make(map[transport.TransferID]operation.ID),
		observers: make(map[operation.ID]callbacks),
	}
	c.tr.Bind(c)
	return c
}

// Run processes events until ctx is done. Operations still running at
// that point fail as Unavailable.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.ctx = ctx

	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		c.notify.run()
	}()

	c.logger.Debug("Coordinator started")
	defer func() {
		close(c.stopped)
		c.shutdown()
		c.notify.close()
		<-notifyDone
		c.logger.Debug("Coordinator stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.events:
			fn()
		}
	}
}

// post queues fn for the event loop. It reports false once the loop has
// exited.
func (c *Coordinator) post(fn func()) bool {
	return c.send(context.Background(), fn) == nil
}

func (c *Coordinator) send(ctx context.Context, fn func()) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.events <- fn:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the event loop and waits for it.
func (c *Coordinator) call(fn func()) bool {
	return c.callContext(context.Background(), fn) == nil
}

// callContext is call bounded by ctx. When ctx ends before the loop
// reaches fn, fn never runs and the context error is returned. Once fn has
// started the caller waits for it regardless of ctx.
func (c *Coordinator) callContext(ctx context.Context, fn func()) error {
	const (
		pending int32 = iota
		running
		abandoned
	)
	var state atomic.Int32
	done := make(chan struct{})
	err := c.send(ctx, func() {
		if !state.CompareAndSwap(pending, running) {
			return
		}
		defer close(done)
		fn()
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		if state.CompareAndSwap(pending, abandoned) {
			return ctx.Err()
		}
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Coordinator) SetListening(listening bool) {
	c.listening.Store(listening)
}

func (c *Coordinator) Listening() bool {
	return c.listening.Load()
}

// RequestFile starts a download of fileID from whichever peer offers it.
// progress and completion, when set, observe only this operation. ctx bounds
// the submission: if it ends before the event loop takes the request, no
// operation is created and the context error is returned.
func (c *Coordinator) RequestFile(ctx context.Context, fileID string, progress ProgressFunc, completion CompletionFunc) (operation.ID, error) {
	if err := validate.Var(fileID, fmt.Sprintf("required,max=%d", protocol.MaxFileIDLen)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFileID, err)
	}

	var id operation.ID
	err := c.callContext(ctx, func() {
		id = c.startDownload(fileID, callbacks{progress: progress, completion: completion})
	})
	switch {
	case errors.Is(err, ErrStopped):
		return "", operation.NewError(operation.KindUnavailable, ErrStopped)
	case err != nil:
		return "", err
	}
	return id, nil
}

// Cancel stops a non-terminal operation. It reports false when the
// operation is unknown or already finished.
func (c *Coordinator) Cancel(id operation.ID) bool {
	var cancelled bool
	c.call(func() { cancelled = c.cancel(id) })
	return cancelled
}

func (c *Coordinator) SetProgressFunc(typ operation.Type, fn ProgressFunc) {
	c.cbMu.Lock()
	c.callbacks[typ].progress = fn
	c.cbMu.Unlock()
}

func (c *Coordinator) SetCompletionFunc(typ operation.Type, fn CompletionFunc) {
	c.cbMu.Lock()
	c.callbacks[typ].completion = fn
	c.cbMu.Unlock()
}

// SetAggregateFunc registers a combined progress callback for typ. It fires
// whenever any transferring operation of that type advances.
func (c *Coordinator) SetAggregateFunc(typ operation.Type, fn AggregateFunc) {
	c.cbMu.Lock()
	c.callbacks[typ].aggregate = fn
	c.cbMu.Unlock()
}

// Observe registers obs for both progress and completion of typ. nil
// clears both.
func (c *Coordinator) Observe(typ operation.Type, obs Observer) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	if obs == nil {
		c.callbacks[typ].progress = nil
		c.callbacks[typ].completion = nil
		return
	}
	c.callbacks[typ].progress = obs.OnProgress
	c.callbacks[typ].completion = obs.OnComplete
}

func (c *Coordinator) typeCallbacks(typ operation.Type) callbacks {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	return *c.callbacks[typ]
}

func (c *Coordinator) emitProgress(v operation.View) {
	cb := c.typeCallbacks(v.Type)
	own := c.observers[v.ID]

	var agg *operation.Aggregate
	if cb.aggregate != nil {
		a := c.registry.Aggregate(v.Type)
		agg = &a
	}

	c.notify.push(func() {
		if cb.progress != nil {
			cb.progress(v)
		}
		if own.progress != nil {
			own.progress(v)
		}
		if agg != nil {
			cb.aggregate(*agg)
		}
	})
}

func (c *Coordinator) emitCompletion(v operation.View) {
	cb := c.typeCallbacks(v.Type)
	own := c.observers[v.ID]
	delete(c.observers, v.ID)

	c.notify.push(func() {
		if cb.completion != nil {
			cb.completion(v)
		}
		if own.completion != nil {
			own.completion(v)
		}
	})
}

// progress records a sample and notifies observers when it advanced.
func (c *Coordinator) progress(id operation.ID, fraction float64) {
	if v, ok := c.registry.UpdateProgress(id, fraction); ok {
		c.emitProgress(v)
	}
}

func (c *Coordinator) succeed(id operation.ID, res transport.Resource) {
	c.progress(id, 1)
	v, ok := c.registry.Complete(id, operation.Ok(res))
	c.forget(id)
	if !ok {
		c.logger.Debug("Dropping late success", "operation", id)
		return
	}
	c.logger.Info("Operation completed", "operation", id, "type", v.Type, "file_id", v.FileID, "url", res.URL())
	c.emitCompletion(v)
}

func (c *Coordinator) fail(id operation.ID, kind operation.ErrorKind, cause error) {
	v, ok := c.registry.Complete(id, operation.Fail(kind, cause))
	c.forget(id)
	if !ok {
		return
	}
	c.logger.Info("Operation failed", "operation", id, "type", v.Type, "file_id", v.FileID, "error", v.Result.Err)
	c.emitCompletion(v)
}

func (c *Coordinator) cancel(id operation.ID) bool {
	v, transfer, ok := c.registry.Cancel(id)
	if !ok {
		return false
	}

	if up := c.uploads[id]; up != nil && v.Transfer == "" {
		c.decline(up.peer.ID, up.req, protocol.ErrCancelled)
	}
	c.forget(id)
	if transfer != "" {
		c.async(func() {
			if err := c.tr.Abort(transfer); err != nil && !errors.Is(err, transport.ErrUnknownTransfer) {
				c.logger.Warn("Abort failed", "operation", id, "transfer", transfer, "error", err)
			}
		})
	}

	c.logger.Info("Operation cancelled", "operation", id, "type", v.Type, "file_id", v.FileID)
	c.emitCompletion(v)
	return true
}

// forget drops the loop's bookkeeping for a terminal operation.
func (c *Coordinator) forget(id operation.ID) {
	if up, ok := c.uploads[id]; ok {
		if up.cancel != nil {
			up.cancel()
		}
		delete(c.uploads, id)
	}
	if d, ok := c.downloads[id]; ok {
		if d.timer != nil {
			d.timer.Stop()
		}
		if d.transfer != "" {
			delete(c.incoming, d.transfer)
		}
		delete(c.downloads, id)
	}
	c.perms.Forget(id)
}

// async runs transport calls that may block on the network off the loop.
func (c *Coordinator) async(fn func()) {
	go fn()
}

func (c *Coordinator) shutdown() {
	ids := make([]operation.ID, 0, len(c.uploads)+len(c.downloads))
	for id := range c.uploads {
		ids = append(ids, id)
	}
	for id := range c.downloads {
		ids = append(ids, id)
	}
	for _, id := range ids {
		v, ok := c.registry.Complete(id, operation.Fail(operation.KindUnavailable, ErrStopped))
		c.forget(id)
		if !ok {
			continue
		}
		if v.Transfer != "" {
			transfer := v.Transfer
			c.async(func() { _ = c.tr.Abort(transfer) })
		}
		c.emitCompletion(v)
	}
}
