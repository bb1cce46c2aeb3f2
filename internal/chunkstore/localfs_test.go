package chunkstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvault/internal/models"
)

func TestLocalFSContract(t *testing.T) {
	runContract(t, func(t *testing.T) ChunkStore {
		fs, err := NewLocalFS(t.TempDir())
		require.NoError(t, err)
		return fs
	})
}

func TestLocalFSCompressesOnDisk(t *testing.T) {
	root := t.TempDir()
	fs, err := NewLocalFS(root)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("a"), 64*1024)
	require.NoError(t, fs.WriteChunk(context.Background(), "bl-z", 0, payload))

	info, err := os.Stat(filepath.Join(root, "bl-z", chunkFileName(0)))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(payload)))

	// No temp files are left behind after commit.
	entries, err := os.ReadDir(filepath.Join(root, "bl-z"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalFSRejectsUnsafeBlobIDs(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", "bl .x"} {
		err := fs.WriteChunk(context.Background(), id, 0, []byte("x"))
		assert.ErrorIs(t, err, models.ErrInvalidArgument, "id %q", id)
	}
}

func TestLocalFSCorruptFileSurfacesStorageFailure(t *testing.T) {
	root := t.TempDir()
	fs, err := NewLocalFS(root)
	require.NoError(t, err)
	require.NoError(t, fs.WriteChunk(context.Background(), "bl-bad", 0, []byte("payload")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bl-bad", chunkFileName(0)), []byte("not zstd"), 0o644))

	it, err := fs.ReadChunksOrdered(context.Background(), "bl-bad")
	require.NoError(t, err)
	defer it.Close()
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), models.ErrStorageFailure)
}

func TestNewLocalFSRequiresRoot(t *testing.T) {
	_, err := NewLocalFS("  ")
	require.Error(t, err)
}
