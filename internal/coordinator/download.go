package coordinator

import (
	"time"

	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/rudransh-shrivastava/nearby/internal/protocol"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

type askState int

const (
	asked askState = iota + 1
	declined
	denied
)

type download struct {
	id       operation.ID
	fileID   string
	peers    map[transport.PeerID]askState
	transfer transport.TransferID
	timer    *time.Timer
}

// settled reports whether every asked peer answered without offering the
// file, and which kind of failure that amounts to.
func (d *download) settled() (operation.ErrorKind, bool) {
	if len(d.peers) == 0 {
		return 0, false
	}
	kind := operation.KindNotFound
	for _, st := range d.peers {
		switch st {
		case asked:
			return 0, false
		case denied:
			kind = operation.KindPermissionDenied
		}
	}
	return kind, true
}

func (c *Coordinator) startDownload(fileID string, own callbacks) operation.ID {
	active, busy := c.registry.ActiveDownload(fileID)
	id := c.registry.Create(operation.Download, transport.Peer{}, fileID)
	c.observers[id] = own

	if busy {
		c.logger.Info("Download already in progress", "file_id", fileID, "operation", active.ID)
		c.fail(id, operation.KindAlreadyInProgress, nil)
		return id
	}

	if _, err := c.registry.Transition(id, operation.Announced); err != nil {
		c.fail(id, operation.KindTransferFailed, err)
		return id
	}

	d := &download{id: id, fileID: fileID, peers: make(map[transport.PeerID]askState)}
	c.downloads[id] = d
	if c.timeout > 0 {
		d.timer = time.AfterFunc(c.timeout, func() {
			c.post(func() { c.requestTimedOut(id) })
		})
	}

	peers := c.tr.Peers()
	c.logger.Info("Requesting file", "operation", id, "file_id", fileID, "peers", len(peers))
	for _, p := range peers {
		c.ask(d, p)
	}
	return id
}

func (c *Coordinator) ask(d *download, p transport.Peer) {
	if _, ok := d.peers[p.ID]; ok {
		return
	}
	d.peers[p.ID] = asked

	req := transport.RequestID(d.id)
	c.async(func() {
		if err := c.tr.Request(p.ID, req, d.fileID); err != nil {
			c.logger.Debug("Request not delivered", "peer", p.ID, "operation", d.id, "error", err)
			c.post(func() { c.requestDeclined(p, req, protocol.ErrInternal) })
		}
	})
}

func (c *Coordinator) peerConnected(p transport.Peer) {
	for _, d := range c.downloads {
		if d.transfer == "" {
			c.ask(d, p)
		}
	}
}

func (c *Coordinator) peerDisconnected(p transport.Peer) {
	c.uploadPeerGone(p.ID)

	for id, d := range c.downloads {
		if d.transfer != "" || d.peers[p.ID] != asked {
			continue
		}
		delete(d.peers, p.ID)
		if kind, ok := d.settled(); ok {
			c.fail(id, kind, nil)
		}
	}
}

func (c *Coordinator) requestDeclined(p transport.Peer, req transport.RequestID, code protocol.ErrorCode) {
	d := c.downloads[operation.ID(req)]
	if d == nil || d.transfer != "" {
		return
	}
	if _, ok := d.peers[p.ID]; !ok {
		return
	}

	c.logger.Info("Peer declined request", "operation", d.id, "peer", p.ID, "code", code.String())
	if code == protocol.ErrPermissionDenied {
		d.peers[p.ID] = denied
	} else {
		d.peers[p.ID] = declined
	}

	if kind, ok := d.settled(); ok {
		c.fail(d.id, kind, nil)
	}
}

func (c *Coordinator) resourceStarted(p transport.Peer, req transport.RequestID, transfer transport.TransferID, name string, size int64) {
	d := c.downloads[operation.ID(req)]
	if d == nil || d.transfer != "" {
		c.logger.Debug("Aborting unwanted transfer", "peer", p.ID, "request", req, "transfer", transfer)
		c.async(func() { _ = c.tr.Abort(transfer) })
		return
	}

	v, err := c.registry.Transition(d.id, operation.Transferring)
	if err != nil {
		c.async(func() { _ = c.tr.Abort(transfer) })
		c.fail(d.id, operation.KindTransferFailed, err)
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.transfer = transfer
	c.incoming[transfer] = d.id
	if av, ok := c.registry.Attach(d.id, p, transfer, name); ok {
		v = av
	}

	c.logger.Info("Receiving file", "operation", d.id, "peer", p.ID, "name", name, "size", size, "transfer", transfer)
	c.emitProgress(v)
}

func (c *Coordinator) resourceProgress(transfer transport.TransferID, fraction float64) {
	if id, ok := c.incoming[transfer]; ok {
		c.progress(id, fraction)
	}
}

func (c *Coordinator) resourceReceived(transfer transport.TransferID, res transport.Resource, err error) {
	id, ok := c.incoming[transfer]
	if !ok {
		if err == nil && res.Path != "" {
			c.logger.Warn("Received file for finished operation", "transfer", transfer, "path", res.Path)
		}
		return
	}
	delete(c.incoming, transfer)

	if err != nil {
		c.fail(id, operation.KindTransferFailed, err)
		return
	}
	c.succeed(id, res)
}

func (c *Coordinator) requestTimedOut(id operation.ID) {
	d := c.downloads[id]
	if d == nil || d.transfer != "" {
		return
	}
	c.fail(id, operation.KindNotFound, ErrRequestTimeout)
}
