package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystemRoundTrip(t *testing.T) {
	fs := OSFileSystem{}
	dir := t.TempDir()
	name := filepath.Join(dir, "sub", "data.csv")

	require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, fs.WriteFile(name, []byte("time,volt\n"), 0o644))

	assert.True(t, fs.Exists(name))
	data, err := fs.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "time,volt\n", string(data))
}

func TestMemoryFileSystemCreateWritesThrough(t *testing.T) {
	fs := NewMemoryFileSystem()

	w, err := fs.Create("out/data.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("0,1.0\n"))
	require.NoError(t, err)

	// Visible before Close, like a flushed OS file.
	data, err := fs.ReadFile("out/data.csv")
	require.NoError(t, err)
	assert.Equal(t, "0,1.0\n", string(data))

	_, err = w.Write([]byte("1,2.5\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err = fs.ReadFile("out/data.csv")
	require.NoError(t, err)
	assert.Equal(t, "0,1.0\n1,2.5\n", string(data))
}

func TestMemoryFileSystemMissingFile(t *testing.T) {
	fs := NewMemoryFileSystem()

	_, err := fs.ReadFile("absent.csv")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, fs.Exists("absent.csv"))
}

func TestMemoryFileSystemMkdirAll(t *testing.T) {
	fs := NewMemoryFileSystem()

	require.NoError(t, fs.MkdirAll("a/b/c", 0o755))
	assert.True(t, fs.Exists("a"))
	assert.True(t, fs.Exists("a/b"))
	assert.True(t, fs.Exists("a/b/c"))
}
