package locator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/nearby/internal/store"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newDir(t *testing.T) (*Dir, string) {
	t.Helper()
	root := t.TempDir()
	d, err := NewDir(root, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, root
}

func TestDirResolve(t *testing.T) {
	// Given
	d, root := newDir(t)
	path := writeFile(t, root, "report.pdf", "pdf bytes")
	require.NoError(t, os.Mkdir(filepath.Join(root, "nested"), 0o755))

	// Then
	res, ok := d.Resolve("report.pdf")
	require.True(t, ok)
	assert.Equal(t, "report.pdf", res.Name)
	assert.Equal(t, int64(len("pdf bytes")), res.Size)
	assert.Equal(t, filepath.Clean(path), res.Path)

	for _, id := range []string{"", ".", "..", "../report.pdf", "nested", "missing.txt", ".hidden"} {
		assert.False(t, d.Exists(id), "expected %q not to resolve", id)
	}
}

func TestDirInvalidatesOnChange(t *testing.T) {
	// Given
	d, root := newDir(t)
	path := writeFile(t, root, "song.mp3", "la")
	require.True(t, d.Exists("song.mp3"))

	// When
	require.NoError(t, os.Remove(path))

	// Then
	require.Eventually(t, func() bool {
		return !d.Exists("song.mp3")
	}, 5*time.Second, 20*time.Millisecond)

	writeFile(t, root, "song.mp3", "la la la")
	require.Eventually(t, func() bool {
		res, ok := d.Resolve("song.mp3")
		return ok && res.Size == int64(len("la la la"))
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewDirRejectsFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "plain.txt", "x")
	_, err := NewDir(path, nil)
	assert.Error(t, err)
}

func TestCatalogResolve(t *testing.T) {
	// Given
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	files := store.NewFileStore(db)
	path := writeFile(t, t.TempDir(), "photo.jpg", "jpeg")

	shared, err := store.Describe(path, "photo-1")
	require.NoError(t, err)
	_, _, err = files.CreateFile(context.Background(), shared)
	require.NoError(t, err)
	_, _, err = files.CreateFile(context.Background(), store.SharedFile{FileID: "gone", Name: "gone", Path: filepath.Join(t.TempDir(), "gone")})
	require.NoError(t, err)

	c := NewCatalog(files, nil)

	// Then
	res, ok := c.Resolve("photo-1")
	require.True(t, ok)
	assert.Equal(t, "photo.jpg", res.Name)
	assert.Len(t, res.Checksum, 32)

	assert.False(t, c.Exists("gone"), "missing file on disk")
	assert.False(t, c.Exists("unknown"))
}

type fixed map[string]transport.Resource

func (f fixed) Exists(id string) bool {
	_, ok := f[id]
	return ok
}

func (f fixed) Resolve(id string) (transport.Resource, bool) {
	res, ok := f[id]
	return res, ok
}

func TestChainFirstHitWins(t *testing.T) {
	chain := Chain{
		fixed{"a": {Name: "first"}},
		fixed{"a": {Name: "second"}, "b": {Name: "only-second"}},
	}

	res, ok := chain.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, "first", res.Name)

	res, ok = chain.Resolve("b")
	require.True(t, ok)
	assert.Equal(t, "only-second", res.Name)

	assert.True(t, chain.Exists("b"))
	assert.False(t, chain.Exists("c"))
	assert.False(t, Chain{}.Exists("a"))
}
