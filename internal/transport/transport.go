// Package transport defines the peer-to-peer substrate used by the
// coordinator: message-oriented connections, the signaling used to set them
// up, and Session, which runs the file request protocol over them.
package transport

import (
	"context"
	"errors"
	"io"
	"net/url"

	"github.com/rudransh-shrivastava/nearby/internal/protocol"
)

var (
	ErrAborted          = errors.New("transfer aborted")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrClosed           = errors.New("connection closed")
	ErrInvalidTransfer  = errors.New("invalid transfer")
	ErrPeerDisconnected = errors.New("peer disconnected")
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrUnknownTransfer  = errors.New("unknown transfer")
)

// Transport yields message-oriented connections to remote peers.
type Transport interface {
	Connect(ctx context.Context, peerID string, metadata ConnectionMetadata) (Conn, error)
	Accept() <-chan Conn
	Close() error
}

type Conn interface {
	PeerID() string
	Send(data []byte) error
	Recv() <-chan []byte
	Close() error
}

type ConnectionMetadata struct {
	Name string
}

type Signaler interface {
	SendSignal(ctx context.Context, peerID string, signal []byte) error
	RecvSignal() <-chan Signal
	io.Closer
}

type Signal struct {
	PeerID  string
	Payload []byte
}

type (
	PeerID     string
	RequestID  string
	TransferID string
)

// Peer is a borrowed view of a connected remote endpoint.
type Peer struct {
	ID          PeerID
	DisplayName string
}

// Resource is a local file that is sent from or was received into.
type Resource struct {
	Checksum []byte
	Name     string
	Path     string
	Size     int64
}

func (r Resource) URL() string {
	if r.Path == "" {
		return ""
	}
	return (&url.URL{Scheme: "file", Path: r.Path}).String()
}

type (
	ProgressFunc func(fraction float64)
	DoneFunc     func(err error)
)

// Handler receives everything a Session observes. Calls for one peer are
// made sequentially, in the order the frames arrived.
type Handler interface {
	PeerConnected(p Peer)
	PeerDisconnected(p Peer)
	IncomingRequest(p Peer, req RequestID, fileID string)
	RequestDeclined(p Peer, req RequestID, code protocol.ErrorCode)
	ResourceStarted(p Peer, req RequestID, id TransferID, name string, size int64)
	ResourceProgress(id TransferID, fraction float64)
	ResourceReceived(id TransferID, res Resource, err error)
}

// AbortError reports that the remote side aborted a transfer.
type AbortError struct {
	Code protocol.ErrorCode
}

func (e *AbortError) Error() string {
	return "transfer aborted by peer: " + e.Code.String()
}

func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}

type nopHandler struct{}

func (nopHandler) PeerConnected(Peer) {}
func (nopHandler) PeerDisconnected(Peer) {}
func (nopHandler) IncomingRequest(Peer, RequestID, string) {}
func (nopHandler) RequestDeclined(Peer, RequestID, protocol.ErrorCode) {}
func (nopHandler) ResourceStarted(Peer, RequestID, TransferID, string, int64) {}
func (nopHandler) ResourceProgress(TransferID, float64) {}
func (nopHandler) ResourceReceived(TransferID, Resource, error) {}
