package operation

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
	"github.com/samber/lo"
)

const DefaultHistorySize = 256

var transitions = map[State][]State{
	Idle:               {Announced},
	Announced:          {AwaitingPermission, Transferring},
	AwaitingPermission: {Transferring},
}

// Registry owns every operation. Writes are serialized by a mutex; reads
// are served from an atomically published snapshot. Terminal operations
// leave the live table for a bounded LRU history.
type Registry struct {
	mu       sync.Mutex
	live     map[ID]*record
	snapshot atomic.Pointer[map[ID]View]
	recent   gcache.Cache
	now      func() time.Time
}

func NewRegistry(historySize int) *Registry {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	r := &Registry{
		live:   make(map[ID]*record),
		recent: gcache.New(historySize).LRU().Build(),
		now:    time.Now,
	}
	r.publish()
	return r
}

func (r *Registry) Create(typ Type, peer transport.Peer, fileID string) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	id := ID(uuid.NewString())
	r.live[id] = &record{
		id:        id,
		typ:       typ,
		peer:      peer,
		fileID:    fileID,
		state:     Idle,
		createdAt: now,
		updatedAt: now,
	}
	r.publish()
	return id
}

func (r *Registry) Get(id ID) (View, bool) {
	if v, ok := (*r.snapshot.Load())[id]; ok {
		return v, true
	}
	if v, err := r.recent.Get(id); err == nil {
		return v.(View), true
	}
	return View{}, false
}

// Transition moves a live operation along a non-terminal edge of the state
// machine. Terminal states are reached through Complete and Cancel.
func (r *Registry) Transition(id ID, to State) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live[id]
	if !ok {
		return View{}, ErrUnknownOperation
	}
	if !lo.Contains(transitions[rec.state], to) {
		return rec.view(), ErrInvalidTransition
	}

	rec.state = to
	rec.updatedAt = r.now()
	r.publish()
	return rec.view(), nil
}

// Attach records the remote peer and transfer serving an operation.
func (r *Registry) Attach(id ID, peer transport.Peer, transfer transport.TransferID, fileName string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live[id]
	if !ok {
		return View{}, false
	}
	if peer.ID != "" {
		rec.peer = peer
	}
	if transfer != "" {
		rec.transfer = transfer
	}
	if fileName != "" {
		rec.fileName = fileName
	}
	rec.updatedAt = r.now()
	r.publish()
	return rec.view(), true
}

// UpdateProgress clamps f to [0,1] and stores it when it advances the
// operation. It reports whether a progress notification is due.
func (r *Registry) UpdateProgress(id ID, f float64) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live[id]
	if !ok || rec.state.Terminal() {
		return View{}, false
	}

	f = lo.Clamp(f, 0, 1)
	first := !rec.sampled
	rec.sampled = true
	if f <= rec.progress && !first {
		return rec.view(), false
	}
	if f > rec.progress {
		rec.progress = f
	}
	rec.updatedAt = r.now()
	r.publish()
	return rec.view(), true
}

// Complete terminates an operation with res. Only the first call takes
// effect; it returns true exactly once per operation.
func (r *Registry) Complete(id ID, res Result) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live[id]
	if !ok || rec.state.Terminal() {
		return View{}, false
	}

	switch {
	case res.Success():
		rec.state = Completed
		rec.progress = 1
		rec.sampled = true
	case res.Err.Kind == KindCancelled:
		rec.state = Cancelled
	default:
		rec.state = Failed
	}
	rec.result = &res
	return r.retire(rec), true
}

// Cancel marks a non-terminal operation cancelled and returns the transfer
// that should be aborted, if any. Cancelling a terminal or unknown
// operation is a no-op.
func (r *Registry) Cancel(id ID) (View, transport.TransferID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live[id]
	if !ok || rec.state.Terminal() {
		return View{}, "", false
	}

	res := Fail(KindCancelled, nil)
	rec.state = Cancelled
	rec.result = &res
	return r.retire(rec), rec.transfer, true
}

// ActiveDownload returns the non-terminal download for fileID, if any.
func (r *Registry) ActiveDownload(fileID string) (View, bool) {
	return lo.Find(lo.Values(*r.snapshot.Load()), func(v View) bool {
		return v.Type == Download && v.FileID == fileID && !v.State.Terminal()
	})
}

// Running reports whether any operation is between Announced and a
// terminal state.
func (r *Registry) Running() bool {
	return lo.SomeBy(lo.Values(*r.snapshot.Load()), func(v View) bool {
		return v.Running
	})
}

// List returns live and recently finished operations, oldest first.
func (r *Registry) List() []View {
	views := lo.Values(*r.snapshot.Load())
	for _, v := range r.recent.GetALL(false) {
		views = append(views, v.(View))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

func (r *Registry) Aggregate(typ Type) Aggregate {
	active := lo.Filter(lo.Values(*r.snapshot.Load()), func(v View, _ int) bool {
		return v.Type == typ && v.State == Transferring
	})
	agg := Aggregate{Type: typ, Count: len(active)}
	if len(active) == 0 {
		return agg
	}

	agg.Indeterminate = lo.SomeBy(active, func(v View) bool { return v.Indeterminate })
	agg.Fraction = lo.SumBy(active, func(v View) float64 { return v.Progress }) / float64(len(active))
	return agg
}

// retire moves rec into the history. The history is written before the
// snapshot drops the record so Get never misses it in between.
func (r *Registry) retire(rec *record) View {
	rec.updatedAt = r.now()
	v := rec.view()
	_ = r.recent.Set(rec.id, v)
	delete(r.live, rec.id)
	r.publish()
	return v
}

func (r *Registry) publish() {
	snap := make(map[ID]View, len(r.live))
	for id, rec := range r.live {
		snap[id] = rec.view()
	}
	r.snapshot.Store(&snap)
}
