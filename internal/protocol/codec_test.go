package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodecResourceStartChunkEnd(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	checksum := bytes.Repeat([]byte{0xab}, ChecksumSize)
	start := &ResourceStart{
		RequestID:  "req-1",
		TransferID: "tr-1",
		Name:       "photo.jpg",
		Size:       1 << 20,
		Checksum:   checksum,
	}
	chunk := &ResourceChunk{TransferID: "tr-1", Offset: 4096, Data: []byte("some chunk data")}
	end := &ResourceEnd{TransferID: "tr-1"}

	for _, msg := range []Message{start, chunk, end} {
		if err := codec.Encode(&buf, msg); err != nil {
			t.Fatalf("Encode %s failed: %v", msg.Type(), err)
		}
	}

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode ResourceStart failed: %v", err)
	}
	gotStart, ok := decoded.(*ResourceStart)
	if !ok {
		t.Fatalf("Expected *ResourceStart, got %T", decoded)
	}
	if gotStart.Name != "photo.jpg" || gotStart.Size != 1<<20 || gotStart.RequestID != "req-1" {
		t.Errorf("ResourceStart mismatch: %+v", gotStart)
	}
	if !bytes.Equal(gotStart.Checksum, checksum) {
		t.Errorf("Checksum mismatch")
	}

	decoded, err = codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode ResourceChunk failed: %v", err)
	}
	gotChunk, ok := decoded.(*ResourceChunk)
	if !ok {
		t.Fatalf("Expected *ResourceChunk, got %T", decoded)
	}
	if gotChunk.Offset != 4096 {
		t.Errorf("Expected offset 4096, got %d", gotChunk.Offset)
	}
	if !bytes.Equal(gotChunk.Data, chunk.Data) {
		t.Errorf("Chunk data mismatch")
	}

	decoded, err = codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode ResourceEnd failed: %v", err)
	}
	if gotEnd, ok := decoded.(*ResourceEnd); !ok || gotEnd.TransferID != "tr-1" {
		t.Errorf("Expected *ResourceEnd for tr-1, got %#v", decoded)
	}
}

func TestCodecDecodeFromBytes(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(&Pong{})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	decoded, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	if _, ok := decoded.(*Pong); !ok {
		t.Errorf("Expected *Pong, got %T", decoded)
	}
}

func TestCodecDeclineCarriesCode(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(&FileDecline{RequestID: "req-9", Code: ErrPermissionDenied})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	decoded, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	msg, ok := decoded.(*FileDecline)
	if !ok {
		t.Fatalf("Expected *FileDecline, got %T", decoded)
	}
	if msg.Code != ErrPermissionDenied {
		t.Errorf("Expected PERMISSION_DENIED, got %v", msg.Code)
	}
	if msg.RequestID != "req-9" {
		t.Errorf("Expected request id req-9, got %q", msg.RequestID)
	}
}

func TestCodecDecodeThroughBufferedStream(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	if err := codec.Encode(&buf, &Hello{NodeID: "n1", Name: "alice"}); err != nil {
		t.Fatalf("Encode Hello failed: %v", err)
	}
	if err := codec.Encode(&buf, &FileReq{RequestID: "r1", FileID: "abc-123"}); err != nil {
		t.Fatalf("Encode FileReq failed: %v", err)
	}

	r := bufio.NewReader(&buf)

	first, err := codec.Decode(r)
	if err != nil {
		t.Fatalf("Decode Hello failed: %v", err)
	}
	if hello, ok := first.(*Hello); !ok || hello.Name != "alice" {
		t.Fatalf("Expected Hello from alice, got %#v", first)
	}

	second, err := codec.Decode(r)
	if err != nil {
		t.Fatalf("Decode FileReq failed: %v", err)
	}
	if req, ok := second.(*FileReq); !ok || req.FileID != "abc-123" {
		t.Fatalf("Expected FileReq for abc-123, got %#v", second)
	}
}

func TestCodecSkipsUnknownFields(t *testing.T) {
	codec := NewCodec()

	body := protowire.AppendTag(nil, 1, protowire.BytesType)
	body = protowire.AppendString(body, "tr-7")
	body = protowire.AppendTag(body, 42, protowire.VarintType)
	body = protowire.AppendVarint(body, 99)

	frame := protowire.AppendTag(nil, envelopeType, protowire.VarintType)
	frame = protowire.AppendVarint(frame, uint64(MsgResourceEnd))
	frame = protowire.AppendTag(frame, envelopeBody, protowire.BytesType)
	frame = protowire.AppendBytes(frame, body)

	decoded, err := codec.DecodeFromBytes(frame)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}
	if end, ok := decoded.(*ResourceEnd); !ok || end.TransferID != "tr-7" {
		t.Errorf("Expected ResourceEnd tr-7, got %#v", decoded)
	}
}

func TestCodecErrors(t *testing.T) {
	codec := NewCodec()

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{
			name:    "unknown type",
			data:    protowire.AppendVarint(protowire.AppendTag(nil, envelopeType, protowire.VarintType), 0x7777),
			wantErr: ErrUnknownMessage,
		},
		{
			name:    "missing type",
			data:    nil,
			wantErr: ErrUnknownMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.DecodeFromBytes(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := codec.DecodeFromBytes([]byte{0x0a, 0xff}); err == nil {
		t.Error("Expected error for truncated frame")
	}

	if _, err := codec.EncodeToBytes(&ResourceChunk{TransferID: "t", Data: make([]byte, MaxFrameSize)}); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected string
	}{
		{ErrFileNotFound, "FILE_NOT_FOUND"},
		{ErrPermissionDenied, "PERMISSION_DENIED"},
		{ErrNotListening, "NOT_LISTENING"},
		{ErrUnknown, "UNKNOWN"},
		{ErrorCode(0xFFFE), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.code.String(); got != tt.expected {
			t.Errorf("%v.String() = %s, want %s", tt.code, got, tt.expected)
		}
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		expected string
		msgType  MessageType
	}{
		{"FILE_REQ", MsgFileReq},
		{"HELLO", MsgHello},
		{"PING", MsgPing},
		{"RESOURCE_START", MsgResourceStart},
		{"UNKNOWN", MessageType(0xFFFF)},
	}

	for _, tt := range tests {
		if got := tt.msgType.String(); got != tt.expected {
			t.Errorf("%v.String() = %s, want %s", tt.msgType, got, tt.expected)
		}
	}
}
