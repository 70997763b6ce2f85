package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

type connection struct {
	peerID      string
	pc          *webrtc.PeerConnection
	signaler    transport.Signaler
	recvChan    chan []byte
	isInitiator bool
	onOpen      func()
	onClose     func()

	opened   chan struct{}
	done     chan struct{}
	writable chan struct{}

	mu       sync.Mutex
	dc       *webrtc.DataChannel
	openOnce sync.Once
	closing  atomic.Bool

	recvMu     sync.RWMutex
	recvClosed bool
}

func newConnection(peerID string, pc *webrtc.PeerConnection, signaler transport.Signaler, isInitiator bool) *connection {
	conn := &connection{
		peerID:      peerID,
		pc:          pc,
		signaler:    signaler,
		recvChan:    make(chan []byte, 256),
		isInitiator: isInitiator,
		opened:      make(chan struct{}),
		done:        make(chan struct{}),
		writable:    make(chan struct{}, 1),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			_ = conn.Close()
		}
	})

	if !isInitiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn.setupDataChannel(dc)
		})
	}

	return conn
}

func (c *connection) createDataChannel() error {
	dc, err := c.pc.CreateDataChannel(dataChannelLabel, dataChannelConfig())
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *connection) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.SetBufferedAmountLowThreshold(lowWaterMark)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.writable <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(func() {
		c.openOnce.Do(func() {
			close(c.opened)
			if c.onOpen != nil {
				c.onOpen()
			}
		})
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.recvMu.RLock()
		defer c.recvMu.RUnlock()
		if c.recvClosed {
			return
		}
		select {
		case c.recvChan <- msg.Data:
		case <-c.done:
		}
	})

	dc.OnClose(func() {
		_ = c.Close()
	})
}

// waitOpen blocks until the data channel opens, the connection closes or
// ctx is done.
func (c *connection) waitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// localDescription sets desc and returns the SDP once ICE gathering has
// finished, so that no trickle signaling is needed.
func (c *connection) localDescription(desc webrtc.SessionDescription) (string, error) {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out")
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *connection) handleSignal(payload []byte) error {
	sdp := string(payload)

	c.mu.Lock()
	if c.pc.RemoteDescription() != nil {
		c.mu.Unlock()
		return nil
	}

	desc := webrtc.SessionDescription{SDP: sdp, Type: webrtc.SDPTypeOffer}
	if c.isInitiator {
		desc.Type = webrtc.SDPTypeAnswer
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	c.mu.Unlock()

	if c.isInitiator {
		return nil
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	local, err := c.localDescription(answer)
	if err != nil {
		return err
	}
	if err := c.signaler.SendSignal(context.Background(), c.peerID, []byte(local)); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	return nil
}

func (c *connection) PeerID() string {
	return c.peerID
}

// Send waits while the channel has more than highWaterMark bytes queued.
func (c *connection) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return fmt.Errorf("data channel not ready")
	}

	for dc.BufferedAmount() > highWaterMark {
		select {
		case <-c.writable:
		case <-c.done:
			return transport.ErrClosed
		case <-time.After(time.Second):
		}
	}

	if err := dc.Send(data); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}
	return nil
}

func (c *connection) Recv() <-chan []byte {
	return c.recvChan
}

// Close may be re-entered from pion callbacks; only the first call acts.
func (c *connection) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	err := c.pc.Close()

	c.recvMu.Lock()
	c.recvClosed = true
	close(c.recvChan)
	c.recvMu.Unlock()

	if c.onClose != nil {
		c.onClose()
	}
	return err
}
