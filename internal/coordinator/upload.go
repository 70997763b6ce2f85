package coordinator

import (
	"context"

	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/rudransh-shrivastava/nearby/internal/permission"
	"github.com/rudransh-shrivastava/nearby/internal/protocol"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

type upload struct {
	id     operation.ID
	peer   transport.Peer
	req    transport.RequestID
	fileID string
	cancel context.CancelFunc
}

func (c *Coordinator) handleIncoming(p transport.Peer, req transport.RequestID, fileID string) {
	if !c.listening.Load() {
		c.logger.Info("Declining request while not listening", "peer", p.ID, "file_id", fileID)
		c.decline(p.ID, req, protocol.ErrNotListening)
		return
	}

	id := c.registry.Create(operation.Upload, p, fileID)
	if _, err := c.registry.Transition(id, operation.Announced); err != nil {
		c.fail(id, operation.KindTransferFailed, err)
		return
	}
	up := &upload{id: id, peer: p, req: req, fileID: fileID}
	c.uploads[id] = up
	c.logger.Info("Incoming file request", "operation", id, "peer", p.ID, "name", p.DisplayName, "file_id", fileID)

	if c.locator == nil || !c.locator.Exists(fileID) {
		c.decline(p.ID, req, protocol.ErrFileNotFound)
		c.fail(id, operation.KindNotFound, nil)
		return
	}

	if _, err := c.registry.Transition(id, operation.AwaitingPermission); err != nil {
		c.fail(id, operation.KindTransferFailed, err)
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	up.cancel = cancel
	request := permission.Request{Operation: id, Peer: p, FileID: fileID}
	go func() {
		allowed, err := c.perms.Authorize(ctx, request)
		c.post(func() { c.permissionAnswered(id, allowed, err) })
	}()
}

func (c *Coordinator) permissionAnswered(id operation.ID, allowed bool, err error) {
	up := c.uploads[id]
	if up == nil {
		return
	}

	if !allowed {
		c.logger.Info("Permission denied", "operation", id, "peer", up.peer.ID, "error", err)
		c.decline(up.peer.ID, up.req, protocol.ErrPermissionDenied)
		c.fail(id, operation.KindPermissionDenied, err)
		return
	}

	res, ok := c.locator.Resolve(up.fileID)
	if !ok {
		c.decline(up.peer.ID, up.req, protocol.ErrFileNotFound)
		c.fail(id, operation.KindNotFound, nil)
		return
	}

	transfer, err := c.tr.SendResource(up.peer.ID, up.req, res,
		func(f float64) { c.post(func() { c.progress(id, f) }) },
		func(err error) { c.post(func() { c.uploadDone(id, res, err) }) },
	)
	if err != nil {
		c.decline(up.peer.ID, up.req, protocol.ErrInternal)
		c.fail(id, operation.KindTransferFailed, err)
		return
	}

	if _, err := c.registry.Transition(id, operation.Transferring); err != nil {
		c.async(func() { _ = c.tr.Abort(transfer) })
		c.fail(id, operation.KindTransferFailed, err)
		return
	}
	c.registry.Attach(id, transport.Peer{}, transfer, res.Name)
	c.logger.Info("Sending file", "operation", id, "peer", up.peer.ID, "name", res.Name, "size", res.Size, "transfer", transfer)
}

func (c *Coordinator) uploadDone(id operation.ID, res transport.Resource, err error) {
	if err == nil {
		c.succeed(id, res)
		return
	}
	c.fail(id, operation.KindTransferFailed, err)
}

// uploadPeerGone fails uploads still waiting for permission when their
// requester disconnects. Running transfers are failed by the transport.
func (c *Coordinator) uploadPeerGone(peer transport.PeerID) {
	for id, up := range c.uploads {
		if up.peer.ID != peer {
			continue
		}
		if v, ok := c.registry.Get(id); ok && v.State == operation.AwaitingPermission {
			c.fail(id, operation.KindTransferFailed, transport.ErrPeerDisconnected)
		}
	}
}

func (c *Coordinator) decline(peer transport.PeerID, req transport.RequestID, code protocol.ErrorCode) {
	c.async(func() {
		if err := c.tr.Decline(peer, req, code); err != nil {
			c.logger.Debug("Failed to decline request", "peer", peer, "request", req, "error", err)
		}
	})
}
