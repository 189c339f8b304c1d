package shaderwatch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changes struct {
	mu    sync.Mutex
	paths []string
}

func (c *changes) add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

func (c *changes) seen(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.paths {
		if p == path {
			return true
		}
	}
	return false
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcherReportsWatchedFiles(t *testing.T) {
	dir := t.TempDir()
	vert := filepath.Join(dir, "vert.spv")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(vert, []byte{1}, 0o644))

	var got changes
	w, err := New(discard(), 50*time.Millisecond, got.add, vert)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(vert, []byte{2}, 0o644))

	abs, err := filepath.Abs(vert)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return got.seen(abs) }, 5*time.Second, 10*time.Millisecond)

	otherAbs, err := filepath.Abs(other)
	require.NoError(t, err)
	assert.False(t, got.seen(otherAbs))
}

func TestWatcherSeesReplacement(t *testing.T) {
	dir := t.TempDir()
	frag := filepath.Join(dir, "frag.spv")
	require.NoError(t, os.WriteFile(frag, []byte{1}, 0o644))

	var got changes
	w, err := New(discard(), 50*time.Millisecond, got.add, frag)
	require.NoError(t, err)
	defer w.Close()

	tmp := filepath.Join(dir, "frag.spv.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte{2}, 0o644))
	require.NoError(t, os.Rename(tmp, frag))

	abs, err := filepath.Abs(frag)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return got.seen(abs) }, 5*time.Second, 10*time.Millisecond)
}

func TestNewFailsOnMissingDirectory(t *testing.T) {
	_, err := New(discard(), 0, func(string) {}, filepath.Join(t.TempDir(), "missing", "vert.spv"))
	assert.Error(t, err)
}

func TestWatcherWaitsForWritesToSettle(t *testing.T) {
	dir := t.TempDir()
	vert := filepath.Join(dir, "vert.spv")
	require.NoError(t, os.WriteFile(vert, nil, 0o644))

	quiet := 500 * time.Millisecond
	var got changes
	w, err := New(discard(), quiet, got.add, vert)
	require.NoError(t, err)
	defer w.Close()

	// A compiler emitting the module in chunks.
	f, err := os.OpenFile(vert, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = f.Write([]byte{byte(i), 0, 0, 0})
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	assert.Zero(t, got.count(), "reported while the file was still being written")

	assert.Eventually(t, func() bool { return got.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(2 * quiet)
	assert.Equal(t, 1, got.count())
}

func TestCloseStopsWatcher(t *testing.T) {
	dir := t.TempDir()
	w, err := New(discard(), 0, func(string) {}, filepath.Join(dir, "vert.spv"))
	require.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
