package transport

import "sync"

const pipeBuffer = 256

type pipeConn struct {
	remoteID string
	in       chan []byte
	out      chan []byte
	recv     chan []byte
	done     chan struct{}
	once     *sync.Once
}

// Pipe returns two connected in-memory Conns. a reports bID as its peer and
// b reports aID. Closing either end closes both.
func Pipe(aID, bID string) (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeConn{remoteID: bID, in: ba, out: ab, recv: make(chan []byte), done: done, once: once}
	b := &pipeConn{remoteID: aID, in: ab, out: ba, recv: make(chan []byte), done: done, once: once}
	go a.forward()
	go b.forward()
	return a, b
}

func (c *pipeConn) forward() {
	defer close(c.recv)
	for {
		select {
		case data := <-c.in:
			select {
			case c.recv <- data:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *pipeConn) PeerID() string {
	return c.remoteID
}

func (c *pipeConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	buf := append([]byte(nil), data...)
	select {
	case c.out <- buf:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *pipeConn) Recv() <-chan []byte {
	return c.recv
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
