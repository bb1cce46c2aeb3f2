package chunkstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBadger(t *testing.T) *Badger {
	t.Helper()
	b, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadgerContract(t *testing.T) {
	runContract(t, func(t *testing.T) ChunkStore { return openBadger(t) })
}

func TestBadgerPrefixesDoNotOverlap(t *testing.T) {
	b := openBadger(t)
	ctx := context.Background()
	require.NoError(t, b.WriteChunk(ctx, "bl-a", 0, []byte("a")))
	require.NoError(t, b.WriteChunk(ctx, "bl-a-b", 0, []byte("ab")))

	it, err := b.ReadChunksOrdered(ctx, "bl-a")
	require.NoError(t, err)
	chunks := collect(t, it)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", string(chunks[0].Payload))

	ids, err := b.ListChunkBlobIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bl-a-b", "bl-a"}, ids)
}

func TestBadgerSequenceOrderingIsNumeric(t *testing.T) {
	b := openBadger(t)
	ctx := context.Background()
	for _, seq := range []int{256, 1, 10, 2} {
		require.NoError(t, b.WriteChunk(ctx, "bl-n", seq, []byte{byte(seq)}))
	}
	it, err := b.ReadChunksOrdered(ctx, "bl-n")
	require.NoError(t, err)
	var seqs []int
	for _, c := range collect(t, it) {
		seqs = append(seqs, c.Sequence)
	}
	assert.Equal(t, []int{1, 2, 10, 256}, seqs)
}

func TestNewBadgerRequiresDir(t *testing.T) {
	_, err := NewBadger("")
	require.Error(t, err)
}
