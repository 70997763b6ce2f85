// Package webrtc provides transport.Conns over WebRTC data channels. Offers
// and answers are exchanged through a transport.Signaler.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

var ErrTransportClosed = errors.New("transport closed")

type Transport struct {
	config      webrtc.Configuration
	logger      *slog.Logger
	signaler    transport.Signaler
	connections map[string]*connection
	incoming    chan transport.Conn
	closed      bool
	mu          sync.RWMutex
}

// New creates a WebRTC transport. A nil stunServers uses DefaultSTUNServers;
// an empty, non-nil slice disables STUN for host-only candidates.
func New(signaler transport.Signaler, stunServers []string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}

	return &Transport{
		config:      stunConfig(stunServers),
		logger:      logger,
		signaler:    signaler,
		connections: make(map[string]*connection),
		incoming:    make(chan transport.Conn, 16),
	}
}

// Run feeds signals from the signaler into the transport until ctx is done
// or the signaler closes.
func (t *Transport) Run(ctx context.Context) error {
	signals := t.signaler.RecvSignal()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if err := t.HandleSignal(sig); err != nil {
				t.logger.Warn("Failed to handle signal", "peer", sig.PeerID, "error", err)
			}
		}
	}
}

// Connect offers a connection to peerID and waits for the data channel to
// open.
func (t *Transport) Connect(ctx context.Context, peerID string, _ transport.ConnectionMetadata) (transport.Conn, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(peerID, pc, t.signaler, true)
	if err := t.track(conn); err != nil {
		_ = pc.Close()
		return nil, err
	}

	if err := conn.createDataChannel(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	sdp, err := conn.localDescription(offer)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := t.signaler.SendSignal(ctx, peerID, []byte(sdp)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}

	if err := conn.waitOpen(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("waiting for data channel: %w", err)
	}
	return conn, nil
}

func (t *Transport) Accept() <-chan transport.Conn {
	return t.incoming
}

func (t *Transport) HandleSignal(signal transport.Signal) error {
	t.mu.RLock()
	conn, exists := t.connections[signal.PeerID]
	t.mu.RUnlock()

	if !exists {
		pc, err := webrtc.NewPeerConnection(t.config)
		if err != nil {
			return fmt.Errorf("failed to create peer connection: %w", err)
		}

		conn = newConnection(signal.PeerID, pc, t.signaler, false)
		conn.onOpen = func() {
			select {
			case t.incoming <- conn:
			default:
				t.logger.Warn("Dropping incoming connection, accept queue full", "peer", conn.peerID)
				go func() { _ = conn.Close() }()
			}
		}

		if err := t.track(conn); err != nil {
			_ = pc.Close()
			return err
		}
	}

	return conn.handleSignal(signal.Payload)
}

func (t *Transport) track(conn *connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if old, ok := t.connections[conn.peerID]; ok {
		go func() { _ = old.Close() }()
	}
	t.connections[conn.peerID] = conn
	conn.onClose = func() { t.untrack(conn) }
	return nil
}

func (t *Transport) untrack(conn *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.connections[conn.peerID]; ok && cur == conn {
		delete(t.connections, conn.peerID)
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*connection, 0, len(t.connections))
	for _, conn := range t.connections {
		conns = append(conns, conn)
	}
	t.connections = make(map[string]*connection)
	t.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return t.signaler.Close()
}

var _ transport.Transport = (*Transport)(nil)
