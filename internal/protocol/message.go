package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Message is a single frame exchanged between two sessions. Every message
// knows how to lay its fields out in protobuf wire format.
type Message interface {
	Type() MessageType
	appendFields(b []byte) []byte
	consumeField(num protowire.Number, typ protowire.Type, b []byte) int
}

type FileDecline struct {
	Code      ErrorCode
	RequestID string
}

func (FileDecline) Type() MessageType { return MsgFileDecline }

func (m *FileDecline) appendFields(b []byte) []byte {
	b = appendString(b, 1, m.RequestID)
	return appendVarint(b, 2, uint64(m.Code))
}

func (m *FileDecline) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeString(typ, b, &m.RequestID)
	case 2:
		return consumeVarint(typ, b, &m.Code)
	}
	return 0
}

type FileReq struct {
	FileID    string
	RequestID string
}

func (FileReq) Type() MessageType { return MsgFileReq }

func (m *FileReq) appendFields(b []byte) []byte {
	b = appendString(b, 1, m.RequestID)
	return appendString(b, 2, m.FileID)
}

func (m *FileReq) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeString(typ, b, &m.RequestID)
	case 2:
		return consumeString(typ, b, &m.FileID)
	}
	return 0
}

// Hello is the first frame each side sends on a new connection.
type Hello struct {
	Name   string
	NodeID string
}

func (Hello) Type() MessageType { return MsgHello }

func (m *Hello) appendFields(b []byte) []byte {
	b = appendString(b, 1, m.NodeID)
	return appendString(b, 2, m.Name)
}

func (m *Hello) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeString(typ, b, &m.NodeID)
	case 2:
		return consumeString(typ, b, &m.Name)
	}
	return 0
}

type Ping struct{}

func (Ping) Type() MessageType { return MsgPing }

func (*Ping) appendFields(b []byte) []byte { return b }

func (*Ping) consumeField(protowire.Number, protowire.Type, []byte) int { return 0 }

type Pong struct{}

func (Pong) Type() MessageType { return MsgPong }

func (*Pong) appendFields(b []byte) []byte { return b }

func (*Pong) consumeField(protowire.Number, protowire.Type, []byte) int { return 0 }

type ResourceAbort struct {
	Code       ErrorCode
	TransferID string
}

func (ResourceAbort) Type() MessageType { return MsgResourceAbort }

func (m *ResourceAbort) appendFields(b []byte) []byte {
	b = appendString(b, 1, m.TransferID)
	return appendVarint(b, 2, uint64(m.Code))
}

func (m *ResourceAbort) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeString(typ, b, &m.TransferID)
	case 2:
		return consumeVarint(typ, b, &m.Code)
	}
	return 0
}

type ResourceChunk struct {
	Data       []byte
	Offset     uint64
	TransferID string
}

func (ResourceChunk) Type() MessageType { return MsgResourceChunk }

func (m *ResourceChunk) appendFields(b []byte) []byte {
	b = appendString(b, 1, m.TransferID)
	b = appendVarint(b, 2, m.Offset)
	return appendBytes(b, 3, m.Data)
}

func (m *ResourceChunk) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeString(typ, b, &m.TransferID)
	case 2:
		return consumeVarint(typ, b, &m.Offset)
	case 3:
		return consumeBytes(typ, b, &m.Data)
	}
	return 0
}

type ResourceEnd struct {
	TransferID string
}

func (ResourceEnd) Type() MessageType { return MsgResourceEnd }

func (m *ResourceEnd) appendFields(b []byte) []byte {
	return appendString(b, 1, m.TransferID)
}

func (m *ResourceEnd) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	if num == 1 {
		return consumeString(typ, b, &m.TransferID)
	}
	return 0
}

// ResourceStart opens a transfer answering RequestID. Size and Checksum
// describe the complete resource so the receiver can verify it.
type ResourceStart struct {
	Checksum   []byte
	Name       string
	RequestID  string
	Size       uint64
	TransferID string
}

func (ResourceStart) Type() MessageType { return MsgResourceStart }

func (m *ResourceStart) appendFields(b []byte) []byte {
	b = appendString(b, 1, m.RequestID)
	b = appendString(b, 2, m.TransferID)
	b = appendString(b, 3, m.Name)
	b = appendVarint(b, 4, m.Size)
	return appendBytes(b, 5, m.Checksum)
}

func (m *ResourceStart) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeString(typ, b, &m.RequestID)
	case 2:
		return consumeString(typ, b, &m.TransferID)
	case 3:
		return consumeString(typ, b, &m.Name)
	case 4:
		return consumeVarint(typ, b, &m.Size)
	case 5:
		return consumeBytes(typ, b, &m.Checksum)
	}
	return 0
}

func newMessage(t MessageType) Message {
	switch t {
	case MsgFileDecline:
		return &FileDecline{}
	case MsgFileReq:
		return &FileReq{}
	case MsgHello:
		return &Hello{}
	case MsgPing:
		return &Ping{}
	case MsgPong:
		return &Pong{}
	case MsgResourceAbort:
		return &ResourceAbort{}
	case MsgResourceChunk:
		return &ResourceChunk{}
	case MsgResourceEnd:
		return &ResourceEnd{}
	case MsgResourceStart:
		return &ResourceStart{}
	default:
		return nil
	}
}
