package operation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("file not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrAlreadyInProgress = errors.New("already in progress")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrCancelled         = errors.New("operation cancelled")
	ErrUnavailable       = errors.New("transport unavailable")

	ErrUnknownOperation  = errors.New("unknown operation")
	ErrInvalidTransition = errors.New("invalid state transition")
)

type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindPermissionDenied
	KindAlreadyInProgress
	KindTransferFailed
	KindCancelled
	KindUnavailable
)

var kindSentinels = map[ErrorKind]error{
	KindNotFound:          ErrNotFound,
	KindPermissionDenied:  ErrPermissionDenied,
	KindAlreadyInProgress: ErrAlreadyInProgress,
	KindTransferFailed:    ErrTransferFailed,
	KindCancelled:         ErrCancelled,
	KindUnavailable:       ErrUnavailable,
}

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindAlreadyInProgress:
		return "already_in_progress"
	case KindTransferFailed:
		return "transfer_failed"
	case KindCancelled:
		return "cancelled"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the failure carried by a terminal operation. It matches the
// sentinel for its kind with errors.Is and unwraps to its cause.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		msg = sentinel.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Kind, true
	}
	return 0, false
}
