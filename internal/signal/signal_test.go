package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(nil)
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

func dial(t *testing.T, url, id string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, id, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRendezvousListsExistingPeers(t *testing.T) {
	// Given
	srv, url := startServer(t)
	alice := dial(t, url, "alice")

	// When
	bob := dial(t, url, "bob")

	// Then
	require.Empty(t, alice.InitialPeers())
	require.Equal(t, []string{"alice"}, bob.InitialPeers())
	require.Eventually(t, func() bool {
		return len(srv.Members()) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRendezvousRelaysSignals(t *testing.T) {
	// Given
	_, url := startServer(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")

	// When
	require.NoError(t, bob.SendSignal(context.Background(), "alice", []byte(`{"sdp":"offer"}`)))

	// Then
	select {
	case sig := <-alice.RecvSignal():
		require.Equal(t, "bob", sig.PeerID)
		require.Equal(t, `{"sdp":"offer"}`, string(sig.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for relayed signal")
	}
}

func TestRendezvousRejectsDuplicateID(t *testing.T) {
	// Given
	_, url := startServer(t)
	dial(t, url, "alice")

	// When
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, url, "alice", nil)

	// Then
	require.Error(t, err)
}

func TestRendezvousAnnouncesDeparture(t *testing.T) {
	// Given
	srv, url := startServer(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")

	// When
	require.NoError(t, bob.Close())

	// Then
	select {
	case id := <-alice.Left():
		require.Equal(t, "bob", id)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for departure")
	}
	require.Eventually(t, func() bool {
		return len(srv.Members()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSendAfterClose(t *testing.T) {
	_, url := startServer(t)
	c := dial(t, url, "alice")

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.SendSignal(context.Background(), "bob", nil), ErrClientClosed)
}
