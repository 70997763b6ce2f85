// Package operation holds the lifecycle records of file transfers and the
// registry that owns them.
package operation

import (
	"time"

	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

type ID string

type Type int

const (
	Upload Type = iota
	Download
)

func (t Type) String() string {
	switch t {
	case Upload:
		return "upload"
	case Download:
		return "download"
	default:
		return "unknown"
	}
}

type State int

const (
	Idle State = iota
	Announced
	AwaitingPermission
	Transferring
	Completed
	Cancelled
	Failed
)

var stateNames = map[State]string{
	Idle:               "idle",
	Announced:          "announced",
	AwaitingPermission: "awaiting_permission",
	Transferring:       "transferring",
	Completed:          "completed",
	Cancelled:          "cancelled",
	Failed:             "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Result is the terminal outcome of an operation. Err is nil on success.
type Result struct {
	Resource transport.Resource
	Err      *Error
}

func Ok(res transport.Resource) Result {
	return Result{Resource: res}
}

func Fail(kind ErrorKind, cause error) Result {
	return Result{Err: &Error{Kind: kind, Cause: cause}}
}

func (r Result) Success() bool {
	return r.Err == nil
}

// View is an immutable snapshot of an operation.
type View struct {
	ID            ID
	Type          Type
	Peer          transport.Peer
	FileID        string
	FileName      string
	State         State
	Progress      float64
	Indeterminate bool
	Running       bool
	Transfer      transport.TransferID
	Result        *Result
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Aggregate is the combined progress of every transferring operation of
// one type.
type Aggregate struct {
	Type          Type
	Fraction      float64
	Count         int
	Indeterminate bool
}

type record struct {
	id        ID
	typ       Type
	peer      transport.Peer
	fileID    string
	fileName  string
	state     State
	progress  float64
	sampled   bool
	transfer  transport.TransferID
	result    *Result
	createdAt time.Time
	updatedAt time.Time
}

func (r *record) running() bool {
	return r.state != Idle && !r.state.Terminal()
}

func (r *record) view() View {
	v := View{
		ID:            r.id,
		Type:          r.typ,
		Peer:          r.peer,
		FileID:        r.fileID,
		FileName:      r.fileName,
		State:         r.state,
		Progress:      r.progress,
		Indeterminate: !r.sampled,
		Running:       r.running(),
		Transfer:      r.transfer,
		CreatedAt:     r.createdAt,
		UpdatedAt:     r.updatedAt,
	}
	if r.result != nil {
		res := *r.result
		v.Result = &res
	}
	return v
}
