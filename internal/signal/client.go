package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

var ErrClientClosed = errors.New("signal client closed")

// Client is a rendezvous member. It implements transport.Signaler.
type Client struct {
	conn    *websocket.Conn
	id      string
	logger  *slog.Logger
	initial []string
	signals chan transport.Signal
	left    chan string

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial joins the rendezvous at rawURL as id and waits for the list of
// members that were already present.
func Dial(ctx context.Context, rawURL, id string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing signal url: %w", err)
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing rendezvous: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	}
	var first Message
	if err := conn.ReadJSON(&first); err != nil || first.Type != TypePeers {
		_ = conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected %q message", first.Type)
		}
		return nil, fmt.Errorf("joining rendezvous: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		id:      id,
		logger:  logger,
		initial: first.Peers,
		signals: make(chan transport.Signal, 64),
		left:    make(chan string, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	logger.Info("Joined rendezvous", "id", id, "peers", len(first.Peers))
	return c, nil
}

func (c *Client) ID() string {
	return c.id
}

// InitialPeers lists the members present when this client joined. Members
// that join later connect to us, not the other way round.
func (c *Client) InitialPeers() []string {
	return append([]string(nil), c.initial...)
}

// Left delivers the ids of members that leave the rendezvous.
func (c *Client) Left() <-chan string {
	return c.left
}

func (c *Client) SendSignal(ctx context.Context, peerID string, signal []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteJSON(Message{Type: TypeSignal, To: peerID, Payload: signal})
}

func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.signals
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.signals)
	defer close(c.left)

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("Rendezvous connection lost", "error", err)
			}
			return
		}

		switch msg.Type {
		case TypeSignal:
			select {
			case c.signals <- transport.Signal{PeerID: msg.From, Payload: msg.Payload}:
			case <-c.done:
				return
			}
		case TypeLeft:
			select {
			case c.left <- msg.From:
			default:
			}
		case TypeJoined:
			c.logger.Debug("Peer joined rendezvous", "id", msg.From)
		}
	}
}

var _ transport.Signaler = (*Client)(nil)
