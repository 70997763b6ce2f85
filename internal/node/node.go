// Package node is the caller-facing API of a nearby file-sharing node.
package node

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/nearby/internal/coordinator"
	"github.com/rudransh-shrivastava/nearby/internal/listener"
	"github.com/rudransh-shrivastava/nearby/internal/locator"
	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/rudransh-shrivastava/nearby/internal/permission"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

const heartbeatInterval = 15 * time.Second

type (
	ProgressFunc   = coordinator.ProgressFunc
	CompletionFunc = coordinator.CompletionFunc
	AggregateFunc  = coordinator.AggregateFunc
	Observer       = coordinator.Observer
	PermissionFunc = permission.Func
)

// PermissionRequester is implemented by upload observers that also decide
// permission requests.
type PermissionRequester interface {
	OnPermissionRequest(ctx context.Context, req permission.Request) bool
}

type Options struct {
	Name              string
	DownloadDir       string
	Locator           locator.FileLocator
	Advertiser        listener.Advertiser
	Logger            *slog.Logger
	ChunkSize         int
	HistorySize       int
	PermissionTimeout time.Duration
	RequestTimeout    time.Duration
}

type Node struct {
	name     string
	logger   *slog.Logger
	session  *transport.Session
	registry *operation.Registry
	perms    *permission.Negotiator
	coord    *coordinator.Coordinator
	listener *listener.Service
}

func New(opts Options) *Node {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Locator == nil {
		opts.Locator = locator.Chain{}
	}
	nodeID := uuid.NewString()
	if opts.Name == "" {
		opts.Name = "nearby-" + nodeID[:8]
	}

	session := transport.NewSession(transport.SessionConfig{
		ChunkSize:   opts.ChunkSize,
		DownloadDir: opts.DownloadDir,
		Logger:      logger.With("component", "session"),
		Name:        opts.Name,
		NodeID:      nodeID,
	})
	registry := operation.NewRegistry(opts.HistorySize)
	perms := permission.NewNegotiator(opts.PermissionTimeout, logger.With("component", "permission"))
	coord := coordinator.New(coordinator.Config{
		Registry:       registry,
		Transport:      session,
		Locator:        opts.Locator,
		Permissions:    perms,
		Logger:         logger.With("component", "coordinator"),
		RequestTimeout: opts.RequestTimeout,
	})

	return &Node{
		name:     opts.Name,
		logger:   logger,
		session:  session,
		registry: registry,
		perms:    perms,
		coord:    coord,
		listener: listener.New(opts.Advertiser, coord, logger.With("component", "listener")),
	}
}

// Run drives the node until ctx is done, then stops listening and closes
// every peer connection.
func (n *Node) Run(ctx context.Context) error {
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go n.session.Heartbeat(hbCtx, heartbeatInterval)

	n.logger.Info("Node running", "name", n.name)
	err := n.coord.Run(ctx)
	n.listener.Stop()
	_ = n.session.Close()
	return err
}

// Serve accepts connections from tr until ctx is done or tr closes.
func (n *Node) Serve(ctx context.Context, tr transport.Transport) error {
	return n.session.Serve(ctx, tr)
}

// Connect dials peerID over tr.
func (n *Node) Connect(ctx context.Context, tr transport.Transport, peerID string) error {
	return n.session.Dial(ctx, tr, peerID)
}

// AddConn adopts an established connection.
func (n *Node) AddConn(conn transport.Conn) error {
	return n.session.AddConn(conn)
}

func (n *Node) Peers() []transport.Peer {
	return n.session.Peers()
}

func (n *Node) DisplayName() string {
	return n.name
}

func (n *Node) StartListening(ctx context.Context) error {
	return n.listener.Start(ctx)
}

func (n *Node) StopListening() {
	n.listener.Stop()
}

func (n *Node) Listening() bool {
	return n.listener.Listening()
}

type requestOptions struct {
	progress   ProgressFunc
	completion CompletionFunc
}

type RequestOption func(*requestOptions)

// WithProgress observes progress of this request only.
func WithProgress(fn ProgressFunc) RequestOption {
	return func(o *requestOptions) { o.progress = fn }
}

// WithCompletion observes the terminal state of this request only.
func WithCompletion(fn CompletionFunc) RequestOption {
	return func(o *requestOptions) { o.completion = fn }
}

// RequestFile asks connected peers, and peers that connect while the
// request is pending, for fileID. ctx bounds only the submission: once the
// returned ID exists, the operation runs until it completes or is cancelled.
func (n *Node) RequestFile(ctx context.Context, fileID string, opts ...RequestOption) (operation.ID, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return n.coord.RequestFile(ctx, fileID, o.progress, o.completion)
}

func (n *Node) Cancel(id operation.ID) bool {
	return n.coord.Cancel(id)
}

func (n *Node) Query(id operation.ID) (operation.View, bool) {
	return n.registry.Get(id)
}

func (n *Node) Operations() []operation.View {
	return n.registry.List()
}

func (n *Node) InProgress() bool {
	return n.registry.Running()
}

func (n *Node) Aggregate(typ operation.Type) operation.Aggregate {
	return n.registry.Aggregate(typ)
}

func (n *Node) SetProgressFunc(typ operation.Type, fn ProgressFunc) {
	n.coord.SetProgressFunc(typ, fn)
}

func (n *Node) SetCompletionFunc(typ operation.Type, fn CompletionFunc) {
	n.coord.SetCompletionFunc(typ, fn)
}

func (n *Node) SetAggregateFunc(typ operation.Type, fn AggregateFunc) {
	n.coord.SetAggregateFunc(typ, fn)
}

// SetPermissionFunc decides incoming requests. nil allows everything.
func (n *Node) SetPermissionFunc(fn PermissionFunc) {
	n.perms.SetFunc(fn)
}

// Observe registers obs for typ. An upload observer that implements
// PermissionRequester also becomes the permission handler.
func (n *Node) Observe(typ operation.Type, obs Observer) {
	n.coord.Observe(typ, obs)
	if typ != operation.Upload {
		return
	}
	if pr, ok := obs.(PermissionRequester); ok {
		n.perms.SetFunc(pr.OnPermissionRequest)
	}
}
