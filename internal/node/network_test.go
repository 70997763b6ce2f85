package node

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/nearby/internal/locator"
	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
	"github.com/rudransh-shrivastava/nearby/internal/transport/quic"
)

// network runs nodes over QUIC on the loopback interface.
type network struct {
	t   *testing.T
	ctx context.Context
}

func newNetwork(t *testing.T) *network {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return &network{t: t, ctx: ctx}
}

func (nw *network) newNode(name string, loc locator.FileLocator) (*Node, *quic.Transport) {
	nw.t.Helper()

	tr, err := quic.NewTransport("127.0.0.1:0", nil)
	if err != nil {
		nw.t.Fatalf("Failed to create transport for %s: %v", name, err)
	}
	nw.t.Cleanup(func() { _ = tr.Close() })

	n := New(Options{Name: name, Locator: loc, Advertiser: tr, DownloadDir: nw.t.TempDir()})
	startNode(nw.t, n)
	go func() { _ = n.Serve(nw.ctx, tr) }()
	return n, tr
}

func (nw *network) waitPeers(n *Node, count int) {
	nw.t.Helper()
	deadline := time.After(5 * time.Second)
	for len(n.Peers()) != count {
		select {
		case <-deadline:
			nw.t.Fatalf("%s has %d peers, want %d", n.DisplayName(), len(n.Peers()), count)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestQUICTransferBetweenNodes(t *testing.T) {
	nw := newNetwork(t)

	shareDir := t.TempDir()
	content := bytes.Repeat([]byte("nearby "), 40000)
	if err := os.WriteFile(filepath.Join(shareDir, "big.txt"), content, 0o644); err != nil {
		t.Fatalf("Failed to write shared file: %v", err)
	}
	dir, err := locator.NewDir(shareDir, nil)
	if err != nil {
		t.Fatalf("NewDir failed: %v", err)
	}
	t.Cleanup(func() { _ = dir.Close() })

	alice, aliceTr := nw.newNode("alice", dir)
	bob, bobTr := nw.newNode("bob", nil)

	if err := alice.StartListening(nw.ctx); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	if err := bob.Connect(nw.ctx, bobTr, aliceTr.LocalAddr().String()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	nw.waitPeers(alice, 1)
	nw.waitPeers(bob, 1)

	done := make(chan operation.View, 1)
	if _, err := bob.RequestFile(nw.ctx, "big.txt", WithCompletion(func(v operation.View) { done <- v })); err != nil {
		t.Fatalf("RequestFile failed: %v", err)
	}

	v := waitDone(t, done)
	if v.State != operation.Completed || !v.Result.Success() {
		t.Fatalf("Expected completed download, got %s (%+v)", v.State, v.Result)
	}
	got, err := os.ReadFile(v.Result.Resource.Path)
	if err != nil {
		t.Fatalf("Failed to read received file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Received %d bytes, want %d", len(got), len(content))
	}
	if v.Peer.DisplayName != "alice" {
		t.Errorf("Expected file from alice, got %+v", v.Peer)
	}
}

func TestQUICNodeAcceptsOnlyWhileListening(t *testing.T) {
	nw := newNetwork(t)

	alice, aliceTr := nw.newNode("alice", nil)
	_, bobTr := nw.newNode("bob", nil)
	addr := aliceTr.LocalAddr().String()

	ctx, cancel := context.WithTimeout(nw.ctx, 500*time.Millisecond)
	_, err := bobTr.Connect(ctx, addr, transport.ConnectionMetadata{Name: "bob"})
	cancel()
	if err == nil {
		t.Fatal("Expected connect to fail while alice is not listening")
	}

	if err := alice.StartListening(nw.ctx); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	if !alice.Listening() {
		t.Fatal("Expected alice to be listening")
	}
	conn, err := bobTr.Connect(nw.ctx, addr, transport.ConnectionMetadata{Name: "bob"})
	if err != nil {
		t.Fatalf("Connect after StartListening failed: %v", err)
	}
	_ = conn.Close()

	alice.StopListening()
	if alice.Listening() {
		t.Error("Expected alice to stop listening")
	}
}
