package node

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/nearby/internal/locator"
	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/rudransh-shrivastava/nearby/internal/permission"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	alice, bob *Node
	shareDir   string
	bobDir     string
}

func startNode(t *testing.T, n *Node) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// setupPair connects alice, who shares a directory, with bob over an
// in-memory pipe.
func setupPair(t *testing.T) *pair {
	t.Helper()

	shareDir := t.TempDir()
	dir, err := locator.NewDir(shareDir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	p := &pair{shareDir: shareDir, bobDir: t.TempDir()}
	p.alice = New(Options{Name: "alice", Locator: dir, DownloadDir: t.TempDir(), ChunkSize: 8})
	p.bob = New(Options{Name: "bob", DownloadDir: p.bobDir, ChunkSize: 8})
	startNode(t, p.alice)
	startNode(t, p.bob)

	toBob, toAlice := transport.Pipe("alice", "bob")
	require.NoError(t, p.alice.AddConn(toBob))
	require.NoError(t, p.bob.AddConn(toAlice))
	return p
}

func waitDone(t *testing.T, ch <-chan operation.View) operation.View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for completion")
	}
	return operation.View{}
}

func TestRequestFileEndToEnd(t *testing.T) {
	// Given
	p := setupPair(t)
	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(filepath.Join(p.shareDir, "fox.txt"), content, 0o644))
	require.NoError(t, p.alice.StartListening(context.Background()))

	uploads := make(chan operation.View, 1)
	p.alice.SetCompletionFunc(operation.Upload, func(v operation.View) { uploads <- v })

	var fractions []float64
	downloads := make(chan operation.View, 1)

	// When
	id, err := p.bob.RequestFile(context.Background(), "fox.txt",
		WithProgress(func(v operation.View) { fractions = append(fractions, v.Progress) }),
		WithCompletion(func(v operation.View) { downloads <- v }),
	)
	require.NoError(t, err)

	// Then
	v := waitDone(t, downloads)
	require.Equal(t, operation.Completed, v.State, "result: %+v", v.Result)
	assert.Equal(t, id, v.ID)
	assert.Equal(t, "alice", v.Peer.DisplayName)
	assert.Equal(t, "fox.txt", v.FileName)
	assert.Equal(t, filepath.Join(p.bobDir, "fox.txt"), v.Result.Resource.Path)

	got, err := os.ReadFile(v.Result.Resource.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NotEmpty(t, fractions)
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}

	up := waitDone(t, uploads)
	assert.Equal(t, operation.Completed, up.State)
	assert.Equal(t, "bob", up.Peer.DisplayName)

	q, ok := p.bob.Query(id)
	require.True(t, ok)
	assert.Equal(t, operation.Completed, q.State)
	assert.False(t, p.bob.InProgress())
}

func TestRequestFileNotListening(t *testing.T) {
	p := setupPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.shareDir, "a.txt"), []byte("a"), 0o644))

	done := make(chan operation.View, 1)
	_, err := p.bob.RequestFile(context.Background(), "a.txt", WithCompletion(func(v operation.View) { done <- v }))
	require.NoError(t, err)

	v := waitDone(t, done)
	assert.ErrorIs(t, v.Result.Err, operation.ErrNotFound)
	assert.Empty(t, p.alice.Operations())
}

func TestRequestFileDeniedByObserver(t *testing.T) {
	// Given
	p := setupPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.shareDir, "private.txt"), []byte("no"), 0o644))
	require.NoError(t, p.alice.StartListening(context.Background()))

	obs := &denyingObserver{asked: make(chan permission.Request, 1)}
	p.alice.Observe(operation.Upload, obs)

	// When
	done := make(chan operation.View, 1)
	_, err := p.bob.RequestFile(context.Background(), "private.txt", WithCompletion(func(v operation.View) { done <- v }))
	require.NoError(t, err)

	// Then
	v := waitDone(t, done)
	assert.ErrorIs(t, v.Result.Err, operation.ErrPermissionDenied)

	req := <-obs.asked
	assert.Equal(t, "bob", req.Peer.DisplayName)
	assert.Equal(t, "private.txt", req.FileID)
}

func TestDisplayNameAndPeers(t *testing.T) {
	p := setupPair(t)

	assert.Equal(t, "alice", p.alice.DisplayName())
	require.Eventually(t, func() bool {
		peers := p.bob.Peers()
		return len(peers) == 1 && peers[0].DisplayName == "alice"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, New(Options{}).DisplayName(), "nearby-")
}

type denyingObserver struct {
	asked chan permission.Request
}

func (o *denyingObserver) OnProgress(operation.View) {}
func (o *denyingObserver) OnComplete(operation.View) {}

func (o *denyingObserver) OnPermissionRequest(_ context.Context, req permission.Request) bool {
	o.asked <- req
	return false
}

func TestRequestFileBeforeRunHonoursContext(t *testing.T) {
	// Given a node that was never started
	n := New(Options{Name: "idle", DownloadDir: t.TempDir()})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// When
	start := time.Now()
	id, err := n.RequestFile(ctx, "a.txt")

	// Then
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, id)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, n.Operations())
}

func TestRequestFileWithDoneContext(t *testing.T) {
	p := setupPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.bob.RequestFile(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.bob.Operations())
}
