package quic

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/nearby/internal/protocol"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

// conn carries length-prefixed frames over a single bidirectional stream.
type conn struct {
	peerID string
	qc     *quic.Conn
	stream *quic.Stream
	recv   chan []byte

	mu        sync.Mutex
	closeOnce sync.Once
}

func newConn(peerID string, qc *quic.Conn, stream *quic.Stream) *conn {
	c := &conn{
		peerID: peerID,
		qc:     qc,
		stream: stream,
		recv:   make(chan []byte, 256),
	}
	go c.readLoop()
	return c
}

func (c *conn) readLoop() {
	defer close(c.recv)
	defer func() { _ = c.Close() }()

	r := bufio.NewReader(c.stream)
	for {
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return
		}
		if size > protocol.MaxFrameSize {
			return
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return
		}
		c.recv <- frame
	}
}

func (c *conn) PeerID() string {
	return c.peerID
}

func (c *conn) Send(data []byte) error {
	if len(data) > protocol.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", protocol.ErrFrameTooLarge, len(data))
	}

	buf := binary.AppendUvarint(make([]byte, 0, len(data)+binary.MaxVarintLen32), uint64(len(data)))
	buf = append(buf, data...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.stream.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}
	return nil
}

func (c *conn) Recv() <-chan []byte {
	return c.recv
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stream.Close()
		err = c.qc.CloseWithError(0, "")
	})
	return err
}
