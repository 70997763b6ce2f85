// Package quic provides transport.Conns over QUIC, addressed directly by
// UDP address. It suits peers on the same network.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

var ErrTransportClosed = errors.New("transport closed")

type Transport struct {
	logger   *slog.Logger
	quicConf *quic.Config
	tlsConf  *tls.Config
	tr       *quic.Transport
	udpConn  *net.UDPConn
	incoming chan transport.Conn

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener *quic.Listener
	closed   bool
}

// NewTransport binds addr. Outgoing connections work immediately; incoming
// ones are accepted only between Advertise and StopAdvertising.
func NewTransport(addr string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", addr, err)
	}

	tlsConf, err := tlsConfig(udpConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		_ = udpConn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		logger:   logger,
		quicConf: quicConfig(),
		tlsConf:  tlsConf,
		tr:       &quic.Transport{Conn: udpConn},
		udpConn:  udpConn,
		incoming: make(chan transport.Conn, 16),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.udpConn.LocalAddr()
}

// Advertise starts accepting incoming connections. Calling it while
// already listening is a no-op.
func (t *Transport) Advertise(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if t.listener != nil {
		return nil
	}

	ln, err := t.tr.Listen(t.tlsConf, t.quicConf)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", t.LocalAddr(), err)
	}
	t.listener = ln
	go t.acceptLoop(ln)

	t.logger.Info("QUIC transport listening", "addr", t.LocalAddr().String())
	return nil
}

// StopAdvertising stops accepting new connections. Established ones stay up.
func (t *Transport) StopAdvertising() {
	t.mu.Lock()
	ln := t.listener
	t.listener = nil
	t.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
		t.logger.Info("QUIC transport stopped listening")
	}
}

func (t *Transport) acceptLoop(ln *quic.Listener) {
	for {
		qc, err := ln.Accept(t.ctx)
		if err != nil {
			return
		}
		go t.handshake(qc)
	}
}

func (t *Transport) handshake(qc *quic.Conn) {
	ctx, cancel := context.WithTimeout(t.ctx, streamOpenWait)
	defer cancel()

	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		t.logger.Warn("Peer opened no stream", "remote", qc.RemoteAddr().String(), "error", err)
		_ = qc.CloseWithError(0, "no stream")
		return
	}

	select {
	case t.incoming <- newConn(qc.RemoteAddr().String(), qc, stream):
	case <-t.ctx.Done():
		_ = qc.CloseWithError(0, "")
	}
}

// Connect dials peerID, which is a host:port UDP address.
func (t *Transport) Connect(ctx context.Context, peerID string, _ transport.ConnectionMetadata) (transport.Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", peerID)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", peerID, err)
	}

	qc, err := t.tr.Dial(ctx, addr, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", peerID, err)
	}

	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "")
		return nil, fmt.Errorf("opening stream to %s: %w", peerID, err)
	}
	return newConn(peerID, qc, stream), nil
}

func (t *Transport) Accept() <-chan transport.Conn {
	return t.incoming
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.StopAdvertising()
	t.cancel()
	err := t.tr.Close()
	_ = t.udpConn.Close()
	return err
}

var _ transport.Transport = (*Transport)(nil)
