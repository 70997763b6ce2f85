package coordinator

import (
	"github.com/rudransh-shrivastava/nearby/internal/protocol"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

var _ transport.Handler = (*Coordinator)(nil)

func (c *Coordinator) PeerConnected(p transport.Peer) {
	c.post(func() { c.peerConnected(p) })
}

func (c *Coordinator) PeerDisconnected(p transport.Peer) {
	c.post(func() { c.peerDisconnected(p) })
}

func (c *Coordinator) IncomingRequest(p transport.Peer, req transport.RequestID, fileID string) {
	c.post(func() { c.handleIncoming(p, req, fileID) })
}

func (c *Coordinator) RequestDeclined(p transport.Peer, req transport.RequestID, code protocol.ErrorCode) {
	c.post(func() { c.requestDeclined(p, req, code) })
}

func (c *Coordinator) ResourceStarted(p transport.Peer, req transport.RequestID, id transport.TransferID, name string, size int64) {
	c.post(func() { c.resourceStarted(p, req, id, name, size) })
}

func (c *Coordinator) ResourceProgress(id transport.TransferID, fraction float64) {
	c.post(func() { c.resourceProgress(id, fraction) })
}

func (c *Coordinator) ResourceReceived(id transport.TransferID, res transport.Resource, err error) {
	c.post(func() { c.resourceReceived(id, res, err) })
}
