package protocol

const (
	// MaxChunkSize bounds the payload of a single ResourceChunk.
	MaxChunkSize = 32 * 1024
	MaxFrameSize = MaxChunkSize + 1024
	ChecksumSize = 32
	MaxFileIDLen = 1024
	MaxNameLen   = 255
)

type MessageType uint16

const (
	MsgFileDecline   MessageType = 0x0011
	MsgFileReq       MessageType = 0x0010
	MsgHello         MessageType = 0x0003
	MsgPing          MessageType = 0x0001
	MsgPong          MessageType = 0x0002
	MsgResourceAbort MessageType = 0x0023
	MsgResourceChunk MessageType = 0x0021
	MsgResourceEnd   MessageType = 0x0022
	MsgResourceStart MessageType = 0x0020
)

func (t MessageType) String() string {
	switch t {
	case MsgFileDecline:
		return "FILE_DECLINE"
	case MsgFileReq:
		return "FILE_REQ"
	case MsgHello:
		return "HELLO"
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	case MsgResourceAbort:
		return "RESOURCE_ABORT"
	case MsgResourceChunk:
		return "RESOURCE_CHUNK"
	case MsgResourceEnd:
		return "RESOURCE_END"
	case MsgResourceStart:
		return "RESOURCE_START"
	default:
		return "UNKNOWN"
	}
}

type ErrorCode uint16

const (
	ErrCancelled        ErrorCode = 0x0005
	ErrChecksumMismatch ErrorCode = 0x0006
	ErrFileNotFound     ErrorCode = 0x0002
	ErrInternal         ErrorCode = 0x00FF
	ErrInvalidMsg       ErrorCode = 0x0001
	ErrNotListening     ErrorCode = 0x0004
	ErrPermissionDenied ErrorCode = 0x0003
	ErrUnknown          ErrorCode = 0x0000
)

func (e ErrorCode) String() string {
	switch e {
	case ErrCancelled:
		return "CANCELLED"
	case ErrChecksumMismatch:
		return "CHECKSUM_MISMATCH"
	case ErrFileNotFound:
		return "FILE_NOT_FOUND"
	case ErrInternal:
		return "INTERNAL_ERROR"
	case ErrInvalidMsg:
		return "INVALID_MESSAGE"
	case ErrNotListening:
		return "NOT_LISTENING"
	case ErrPermissionDenied:
		return "PERMISSION_DENIED"
	case ErrUnknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}
