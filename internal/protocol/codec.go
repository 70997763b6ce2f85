package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrUnknownMessage = errors.New("unknown message type")
)

const (
	envelopeType protowire.Number = 1
	envelopeBody protowire.Number = 2
)

// Codec encodes messages as a protobuf envelope {1: type, 2: body}. On
// streams each envelope is prefixed with its uvarint length.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	frame, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}

	buf := binary.AppendUvarint(make([]byte, 0, len(frame)+binary.MaxVarintLen32), uint64(len(frame)))
	buf = append(buf, frame...)
	_, err = w.Write(buf)
	return err
}

func (c *Codec) Decode(r io.Reader) (Message, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{Reader: r}
	}

	size, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return c.DecodeFromBytes(frame)
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}

	body := msg.appendFields(nil)
	b := make([]byte, 0, len(body)+8)
	b = appendVarint(b, envelopeType, uint64(msg.Type()))
	b = protowire.AppendTag(b, envelopeBody, protowire.BytesType)
	b = protowire.AppendBytes(b, body)

	if len(b) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b))
	}
	return b, nil
}

func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	var (
		msgType MessageType
		body    []byte
		hasType bool
	)

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case envelopeType:
			hasType = true
			return consumeVarint(typ, b, &msgType)
		case envelopeBody:
			return consumeBytes(typ, b, &body)
		}
		return 0
	})
	if err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	msg := newMessage(msgType)
	if !hasType || msg == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msgType)
	}

	if err := consumeFields(body, msg.consumeField); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", msgType, err)
	}
	return msg, nil
}

// byteReader reads one byte at a time so that no bytes past the current
// frame are consumed from the underlying stream.
type byteReader struct {
	io.Reader
	buf [1]byte
}

func (r *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(r.Reader, r.buf[:]); err != nil {
		return 0, err
	}
	return r.buf[0], nil
}

// consumeFields walks every field in b. fn returns the number of bytes it
// consumed for a known field, 0 to skip it, or a negative protowire error.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n = fn(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func consumeVarint[T ~uint16 | ~uint32 | ~uint64](typ protowire.Type, b []byte, dst *T) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = T(v)
	}
	return n
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte(nil), v...)
	}
	return n
}
