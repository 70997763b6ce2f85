package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/nearby/internal/protocol"
)

type SessionConfig struct {
	ChunkSize   int
	DownloadDir string
	Logger      *slog.Logger
	Name        string
	NodeID      string
}

// Session runs the file request protocol over any number of Conns. It owns
// framing, chunking, checksum verification and abort propagation; request
// matching and lifecycle decisions belong to its Handler.
type Session struct {
	codec  *protocol.Codec
	config SessionConfig
	logger *slog.Logger

	mu       sync.RWMutex
	handler  Handler
	remotes  map[PeerID]*remote
	outgoing map[TransferID]*outgoing
	incoming map[TransferID]*incoming
	closed   bool

	wg sync.WaitGroup
}

type remote struct {
	conn   Conn
	sendMu sync.Mutex

	mu    sync.Mutex
	peer  Peer
	ready bool
}

func (r *remote) snapshot() Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peer
}

type outgoing struct {
	cancel   chan struct{}
	done     DoneFunc
	finished sync.Once
	id       TransferID
	peer     PeerID
	stopped  sync.Once
}

func (o *outgoing) stop() {
	o.stopped.Do(func() { close(o.cancel) })
}

type incoming struct {
	checksum []byte
	id       TransferID
	name     string
	peer     PeerID
	size     int64

	mu      sync.Mutex
	closed  bool
	file    *os.File
	hash    hash.Hash
	written int64
}

func (in *incoming) discard() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	_ = in.file.Close()
	_ = os.Remove(in.file.Name())
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > protocol.MaxChunkSize {
		cfg.ChunkSize = protocol.MaxChunkSize
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = os.TempDir()
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	return &Session{
		codec:    protocol.NewCodec(),
		config:   cfg,
		logger:   logger,
		handler:  nopHandler{},
		remotes:  make(map[PeerID]*remote),
		outgoing: make(map[TransferID]*outgoing),
		incoming: make(map[TransferID]*incoming),
	}
}

func (s *Session) Bind(h Handler) {
	if h == nil {
		h = nopHandler{}
	}
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Session) Name() string {
	return s.config.Name
}

func (s *Session) h() Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

// AddConn registers conn and starts reading from it. The peer is reported
// as connected once its Hello arrives.
func (s *Session) AddConn(conn Conn) error {
	id := PeerID(conn.PeerID())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	if _, exists := s.remotes[id]; exists {
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("peer %s already connected", id)
	}
	r := &remote{conn: conn, peer: Peer{ID: id, DisplayName: string(id)}}
	s.remotes[id] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(r)

	if err := s.send(r, &protocol.Hello{NodeID: s.config.NodeID, Name: s.config.Name}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("sending hello to %s: %w", id, err)
	}
	s.logger.Debug("Connection added", "peer", id)
	return nil
}

// Serve adds every connection tr accepts until ctx is done or tr closes.
func (s *Session) Serve(ctx context.Context, tr Transport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case conn, ok := <-tr.Accept():
			if !ok {
				return nil
			}
			if err := s.AddConn(conn); err != nil {
				s.logger.Warn("Rejected incoming connection", "peer", conn.PeerID(), "error", err)
			}
		}
	}
}

func (s *Session) Dial(ctx context.Context, tr Transport, peerID string) error {
	conn, err := tr.Connect(ctx, peerID, ConnectionMetadata{Name: s.config.Name})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", peerID, err)
	}
	return s.AddConn(conn)
}

// Heartbeat pings every peer each interval until ctx is done.
func (s *Session) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, r := range s.readyRemotes() {
				if err := s.send(r, &protocol.Ping{}); err != nil {
					s.logger.Debug("Ping failed", "peer", r.peer.ID, "error", err)
				}
			}
		}
	}
}

func (s *Session) Peers() []Peer {
	remotes := s.readyRemotes()
	peers := make([]Peer, 0, len(remotes))
	for _, r := range remotes {
		peers = append(peers, r.snapshot())
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

func (s *Session) Request(peer PeerID, req RequestID, fileID string) error {
	r := s.remote(peer)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	return s.send(r, &protocol.FileReq{RequestID: string(req), FileID: fileID})
}

func (s *Session) Decline(peer PeerID, req RequestID, code protocol.ErrorCode) error {
	r := s.remote(peer)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	return s.send(r, &protocol.FileDecline{RequestID: string(req), Code: code})
}

// SendResource streams res to peer as the answer to req. progress is called
// after every chunk and done exactly once, unless the transfer could not be
// started, in which case the error is returned instead.
func (s *Session) SendResource(peer PeerID, req RequestID, res Resource, progress ProgressFunc, done DoneFunc) (TransferID, error) {
	r := s.remote(peer)
	if r == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}

	f, err := os.Open(res.Path)
	if err != nil {
		return "", fmt.Errorf("opening resource: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return "", fmt.Errorf("stat resource: %w", err)
	}

	out := &outgoing{
		cancel: make(chan struct{}),
		done:   done,
		id:     TransferID(uuid.NewString()),
		peer:   peer,
	}

	s.mu.Lock()
	s.outgoing[out.id] = out
	s.mu.Unlock()

	s.wg.Add(1)
	go s.stream(r, out, f, info.Size(), req, res, progress)
	return out.id, nil
}

// Abort stops a transfer in either direction and tells the remote side.
func (s *Session) Abort(id TransferID) error {
	s.mu.Lock()
	out := s.outgoing[id]
	in := s.incoming[id]
	if in != nil {
		delete(s.incoming, id)
	}
	s.mu.Unlock()

	switch {
	case out != nil:
		out.stop()
		s.notifyAbort(out.peer, id, protocol.ErrCancelled)
		s.finishOutgoing(out, ErrAborted)
	case in != nil:
		in.discard()
		s.notifyAbort(in.peer, id, protocol.ErrCancelled)
		s.h().ResourceReceived(id, Resource{}, ErrAborted)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	remotes := make([]*remote, 0, len(s.remotes))
	for _, r := range s.remotes {
		remotes = append(remotes, r)
	}
	s.mu.Unlock()

	for _, r := range remotes {
		_ = r.conn.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Session) remote(id PeerID) *remote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remotes[id]
}

func (s *Session) readyRemotes() []*remote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	remotes := make([]*remote, 0, len(s.remotes))
	for _, r := range s.remotes {
		r.mu.Lock()
		ready := r.ready
		r.mu.Unlock()
		if ready {
			remotes = append(remotes, r)
		}
	}
	return remotes
}

func (s *Session) send(r *remote, msg protocol.Message) error {
	data, err := s.codec.EncodeToBytes(msg)
	if err != nil {
		return err
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return r.conn.Send(data)
}

func (s *Session) notifyAbort(peer PeerID, id TransferID, code protocol.ErrorCode) {
	r := s.remote(peer)
	if r == nil {
		return
	}
	if err := s.send(r, &protocol.ResourceAbort{TransferID: string(id), Code: code}); err != nil {
		s.logger.Debug("Failed to send abort", "peer", peer, "transfer", id, "error", err)
	}
}

func (s *Session) readLoop(r *remote) {
	defer s.wg.Done()
	defer s.removeRemote(r)

	for data := range r.conn.Recv() {
		msg, err := s.codec.DecodeFromBytes(data)
		if err != nil {
			s.logger.Warn("Dropping malformed frame", "peer", r.peer.ID, "error", err)
			continue
		}
		s.dispatch(r, msg)
	}
}

func (s *Session) removeRemote(r *remote) {
	id := r.peer.ID

	s.mu.Lock()
	if cur, ok := s.remotes[id]; ok && cur == r {
		delete(s.remotes, id)
	}
	var outs []*outgoing
	for _, out := range s.outgoing {
		if out.peer == id {
			outs = append(outs, out)
		}
	}
	var ins []*incoming
	for tid, in := range s.incoming {
		if in.peer == id {
			ins = append(ins, in)
			delete(s.incoming, tid)
		}
	}
	s.mu.Unlock()

	_ = r.conn.Close()

	h := s.h()
	for _, out := range outs {
		out.stop()
		s.finishOutgoing(out, ErrPeerDisconnected)
	}
	for _, in := range ins {
		in.discard()
		h.ResourceReceived(in.id, Resource{}, ErrPeerDisconnected)
	}

	r.mu.Lock()
	ready := r.ready
	peer := r.peer
	r.mu.Unlock()
	if ready {
		s.logger.Info("Peer disconnected", "peer", peer.ID, "name", peer.DisplayName)
		h.PeerDisconnected(peer)
	}
}

func (s *Session) dispatch(r *remote, msg protocol.Message) {
	h := s.h()

	switch m := msg.(type) {
	case *protocol.Hello:
		r.mu.Lock()
		if m.Name != "" {
			r.peer.DisplayName = m.Name
		}
		first := !r.ready
		r.ready = true
		peer := r.peer
		r.mu.Unlock()
		if first {
			s.logger.Info("Peer connected", "peer", peer.ID, "name", peer.DisplayName)
			h.PeerConnected(peer)
		}
	case *protocol.Ping:
		_ = s.send(r, &protocol.Pong{})
	case *protocol.Pong:
	case *protocol.FileReq:
		h.IncomingRequest(r.snapshot(), RequestID(m.RequestID), m.FileID)
	case *protocol.FileDecline:
		h.RequestDeclined(r.snapshot(), RequestID(m.RequestID), m.Code)
	case *protocol.ResourceStart:
		s.handleStart(r, m)
	case *protocol.ResourceChunk:
		s.handleChunk(r, m)
	case *protocol.ResourceEnd:
		s.handleEnd(r, m)
	case *protocol.ResourceAbort:
		s.handleAbort(r, m)
	default:
		s.logger.Warn("Unexpected message", "peer", r.peer.ID, "type", msg.Type().String())
	}
}

func (s *Session) handleStart(r *remote, m *protocol.ResourceStart) {
	id := TransferID(m.TransferID)
	req := RequestID(m.RequestID)
	if id == "" {
		s.logger.Warn("Resource start without transfer id", "peer", r.peer.ID)
		return
	}
	if m.Size > math.MaxInt64 {
		s.logger.Warn("Resource start with invalid size", "peer", r.peer.ID, "transfer", id, "size", m.Size)
		s.notifyAbort(r.peer.ID, id, protocol.ErrInvalidMsg)
		s.h().RequestDeclined(r.snapshot(), req, protocol.ErrInvalidMsg)
		return
	}

	f, err := os.CreateTemp(s.config.DownloadDir, ".nearby-*.part")
	if err != nil {
		s.logger.Error("Failed to create download file", "error", err)
		s.notifyAbort(r.peer.ID, id, protocol.ErrInternal)
		return
	}

	in := &incoming{
		checksum: m.Checksum,
		id:       id,
		name:     sanitizeName(m.Name, string(id)),
		peer:     r.peer.ID,
		size:     int64(m.Size),
		file:     f,
		hash:     sha256.New(),
	}

	s.mu.Lock()
	existing := s.incoming[id]
	if existing == nil {
		s.incoming[id] = in
	}
	s.mu.Unlock()

	if existing != nil {
		in.discard()
		s.logger.Warn("Duplicate resource start", "peer", r.peer.ID, "transfer", id)
		// A sender reusing its own id can no longer be told apart from the
		// first transfer, so both go.
		if existing.peer == r.peer.ID {
			s.failIncoming(existing, protocol.ErrInvalidMsg, fmt.Errorf("%w: %s started twice", ErrInvalidTransfer, id))
		} else {
			s.notifyAbort(r.peer.ID, id, protocol.ErrInvalidMsg)
		}
		s.h().RequestDeclined(r.snapshot(), req, protocol.ErrInvalidMsg)
		return
	}

	s.h().ResourceStarted(r.snapshot(), req, id, in.name, in.size)
}

func (s *Session) handleChunk(r *remote, m *protocol.ResourceChunk) {
	id := TransferID(m.TransferID)
	in := s.lookupIncoming(id, r.peer.ID)
	if in == nil {
		return
	}

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	if m.Offset != uint64(in.written) || in.written+int64(len(m.Data)) > in.size {
		in.mu.Unlock()
		s.failIncoming(in, protocol.ErrInvalidMsg, fmt.Errorf("%w: chunk at offset %d", ErrSizeMismatch, m.Offset))
		return
	}
	_, err := in.file.Write(m.Data)
	if err == nil {
		in.hash.Write(m.Data)
		in.written += int64(len(m.Data))
	}
	fraction := ratio(in.written, in.size)
	in.mu.Unlock()

	if err != nil {
		s.failIncoming(in, protocol.ErrInternal, fmt.Errorf("writing chunk: %w", err))
		return
	}
	s.h().ResourceProgress(id, fraction)
}

func (s *Session) handleEnd(r *remote, m *protocol.ResourceEnd) {
	id := TransferID(m.TransferID)
	in := s.takeIncoming(id, r.peer.ID)
	if in == nil {
		return
	}

	res, err := s.finalize(in)
	if err != nil {
		s.logger.Warn("Received resource rejected", "transfer", id, "error", err)
		s.h().ResourceReceived(id, Resource{}, err)
		return
	}
	s.h().ResourceReceived(id, res, nil)
}

func (s *Session) finalize(in *incoming) (Resource, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return Resource{}, ErrAborted
	}
	in.closed = true

	tmp := in.file.Name()
	fail := func(err error) (Resource, error) {
		_ = os.Remove(tmp)
		return Resource{}, err
	}

	if err := in.file.Close(); err != nil {
		return fail(fmt.Errorf("closing download: %w", err))
	}
	if in.written != in.size {
		return fail(fmt.Errorf("%w: got %d of %d bytes", ErrSizeMismatch, in.written, in.size))
	}
	sum := in.hash.Sum(nil)
	if len(in.checksum) > 0 && !bytes.Equal(sum, in.checksum) {
		return fail(ErrChecksumMismatch)
	}

	path, err := reservePath(s.config.DownloadDir, in.name)
	if err != nil {
		return fail(fmt.Errorf("reserving download name: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(path)
		return fail(fmt.Errorf("moving download into place: %w", err))
	}

	return Resource{Checksum: sum, Name: in.name, Path: path, Size: in.size}, nil
}

func (s *Session) handleAbort(r *remote, m *protocol.ResourceAbort) {
	id := TransferID(m.TransferID)
	abortErr := &AbortError{Code: m.Code}

	s.mu.RLock()
	out := s.outgoing[id]
	s.mu.RUnlock()
	if out != nil && out.peer == r.peer.ID {
		out.stop()
		s.finishOutgoing(out, abortErr)
		return
	}

	if in := s.takeIncoming(id, r.peer.ID); in != nil {
		in.discard()
		s.h().ResourceReceived(id, Resource{}, abortErr)
	}
}

func (s *Session) failIncoming(in *incoming, code protocol.ErrorCode, err error) {
	if s.takeIncoming(in.id, in.peer) == nil {
		return
	}
	in.discard()
	s.notifyAbort(in.peer, in.id, code)
	s.h().ResourceReceived(in.id, Resource{}, err)
}

func (s *Session) lookupIncoming(id TransferID, peer PeerID) *incoming {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in := s.incoming[id]
	if in == nil || in.peer != peer {
		return nil
	}
	return in
}

func (s *Session) takeIncoming(id TransferID, peer PeerID) *incoming {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.incoming[id]
	if in == nil || in.peer != peer {
		return nil
	}
	delete(s.incoming, id)
	return in
}

func (s *Session) finishOutgoing(out *outgoing, err error) {
	out.finished.Do(func() {
		s.mu.Lock()
		delete(s.outgoing, out.id)
		s.mu.Unlock()

		if out.done != nil {
			out.done(err)
		}
	})
}

func (s *Session) stream(r *remote, out *outgoing, f *os.File, size int64, req RequestID, res Resource, progress ProgressFunc) {
	defer s.wg.Done()
	defer f.Close()

	checksum := res.Checksum
	if len(checksum) == 0 {
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			s.finishOutgoing(out, fmt.Errorf("hashing resource: %w", err))
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			s.finishOutgoing(out, fmt.Errorf("rewinding resource: %w", err))
			return
		}
		checksum = h.Sum(nil)
	}

	name := res.Name
	if name == "" {
		name = filepath.Base(res.Path)
	}

	start := &protocol.ResourceStart{
		Checksum:   checksum,
		Name:       name,
		RequestID:  string(req),
		Size:       uint64(size),
		TransferID: string(out.id),
	}
	if err := s.send(r, start); err != nil {
		s.finishOutgoing(out, err)
		return
	}

	buf := make([]byte, s.config.ChunkSize)
	var sent int64
	for {
		select {
		case <-out.cancel:
			return
		default:
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := &protocol.ResourceChunk{TransferID: string(out.id), Offset: uint64(sent), Data: buf[:n]}
			if err := s.send(r, chunk); err != nil {
				s.finishOutgoing(out, err)
				return
			}
			sent += int64(n)
			if progress != nil {
				progress(ratio(sent, size))
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			s.notifyAbort(out.peer, out.id, protocol.ErrInternal)
			s.finishOutgoing(out, fmt.Errorf("reading resource: %w", readErr))
			return
		}
	}

	select {
	case <-out.cancel:
		return
	default:
	}

	if sent != size {
		s.notifyAbort(out.peer, out.id, protocol.ErrInternal)
		s.finishOutgoing(out, fmt.Errorf("%w: sent %d of %d bytes", ErrSizeMismatch, sent, size))
		return
	}
	s.finishOutgoing(out, s.send(r, &protocol.ResourceEnd{TransferID: string(out.id)}))
}

func ratio(done, total int64) float64 {
	if total <= 0 {
		return 1
	}
	return float64(done) / float64(total)
}

func sanitizeName(name, fallback string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, ".") {
		return fallback
	}
	if len(name) > protocol.MaxNameLen {
		name = name[:protocol.MaxNameLen]
	}
	return name
}

// reservePath claims name in dir, or "base (n).ext" when it is taken, by
// creating an empty placeholder. Callers rename over the placeholder.
func reservePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return candidate, f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
}
