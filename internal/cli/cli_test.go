package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rudransh-shrivastava/nearby/internal/permission"
	rendezvous "github.com/rudransh-shrivastava/nearby/internal/signal"
	"github.com/rudransh-shrivastava/nearby/internal/store"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestPrompterAnswers(t *testing.T) {
	// Given
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("y\nno\nYES\n"), &out)
	req := permission.Request{Peer: transport.Peer{ID: "b", DisplayName: "bob"}, FileID: "abc"}
	ctx := context.Background()

	// When / Then
	assert.True(t, p.Ask(ctx, req))
	assert.False(t, p.Ask(ctx, req))
	assert.True(t, p.Ask(ctx, req))
	assert.False(t, p.Ask(ctx, req), "closed input denies")
	assert.Contains(t, out.String(), "bob wants abc. Allow? [y/N]")
}

func TestPrompterTimesOut(t *testing.T) {
	// Given
	var out bytes.Buffer
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close()
		_ = r.Close()
	})
	p := newPrompter(r, &out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// When
	allowed := p.Ask(ctx, permission.Request{Peer: transport.Peer{ID: "10.0.0.2:7420"}, FileID: "abc"})

	// Then
	assert.False(t, allowed)
	assert.Contains(t, out.String(), "10.0.0.2:7420 wants abc")
	assert.Contains(t, out.String(), "timed out")
}

func TestListFiles(t *testing.T) {
	// Given
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	files := store.NewFileStore(db)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	shared, err := store.Describe(path, "notes-1")
	require.NoError(t, err)
	_, created, err := files.CreateFile(context.Background(), shared)
	require.NoError(t, err)
	require.True(t, created)

	// When
	var out bytes.Buffer
	require.NoError(t, listFiles(context.Background(), files, &out))

	// Then
	text := out.String()
	assert.Contains(t, text, "notes-1")
	assert.Contains(t, text, "notes.txt")
	assert.Contains(t, text, "2cf24dba5fb0")
}

func TestListFilesEmpty(t *testing.T) {
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, listFiles(context.Background(), store.NewFileStore(db), &out))
	assert.Equal(t, "No shared files\n", out.String())
}

func TestRendezvousRoutes(t *testing.T) {
	// Given
	srv := rendezvous.NewServer(nil)
	ts := httptest.NewServer(newRendezvous(srv, slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := rendezvous.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", "alice", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// When
	resp, err := http.Get(ts.URL + "/members")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Then
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Members []string `json:"members"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"alice"}, body.Members)
}

func TestOverride(t *testing.T) {
	addr := "0.0.0.0:7420"
	override(&addr, "")
	assert.Equal(t, "0.0.0.0:7420", addr)
	override(&addr, "127.0.0.1:9000")
	assert.Equal(t, "127.0.0.1:9000", addr)

	timeout := time.Second
	override(&timeout, 0)
	assert.Equal(t, time.Second, timeout)
}
