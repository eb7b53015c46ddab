package internal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "wizz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSource(t *testing.T, s *SQLiteStore, contextID int64, name string, texts ...string) (*Source, []*Blob) {
	t.Helper()
	ctx := context.Background()

	src := &Source{ContextID: contextID, Name: name, Hash: "hash-" + name}
	require.NoError(t, s.CreateSource(ctx, src))

	blobs := make([]*Blob, len(texts))
	for i, text := range texts {
		blobs[i] = &Blob{SourceID: src.ID, Text: text, BlobIndex: i, VectorHex: EncodeVector([]float32{float32(i)})}
	}
	require.NoError(t, s.CreateBlobs(ctx, blobs))
	return src, blobs
}

func TestSQLiteStore_Contexts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreateContext(ctx, "research")
	require.NoError(t, err)
	again, err := s.GetOrCreateContext(ctx, "research")
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)

	_, err = s.GetOrCreateContext(ctx, "archive")
	require.NoError(t, err)

	list, err := s.ListContexts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "archive", list[0].Name)
	assert.Equal(t, "research", list[1].Name)

	_, err = s.GetContext(ctx, "nope")
	assert.ErrorIs(t, err, ErrContextNotFound)

	assert.Equal(t, "research_blobs", a.BlobIndex())
	assert.Equal(t, "research_sources", a.SourceIndex())
}

func TestSQLiteStore_SourcesAndBlobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kc, err := s.GetOrCreateContext(ctx, "c")
	require.NoError(t, err)

	src, blobs := seedSource(t, s, kc.ID, "a.txt", "one", "two", "three")
	assert.NotZero(t, src.ID)
	for _, b := range blobs {
		assert.NotZero(t, b.ID)
	}

	exists, err := s.SourceExists(ctx, kc.ID, "hash-a.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	other, err := s.GetOrCreateContext(ctx, "other")
	require.NoError(t, err)
	exists, err = s.SourceExists(ctx, other.ID, "hash-a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.UpdateSourceVector(ctx, src.ID, "0000803f"))
	sources, err := s.ListSources(ctx, kc.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "0000803f", sources[0].VectorHex)

	assert.ErrorIs(t, s.UpdateSourceVector(ctx, 999, "00"), ErrNotFound)

	got, err := s.ListSourceBlobs(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "two", got[1].Text)
	assert.Equal(t, blobs[1].VectorHex, got[1].VectorHex)
}

func TestSQLiteStore_LoadBlobsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kc, err := s.GetOrCreateContext(ctx, "c")
	require.NoError(t, err)

	_, first := seedSource(t, s, kc.ID, "a", "a0", "a1")
	_, second := seedSource(t, s, kc.ID, "b", "b0", "b1")

	got, err := s.LoadBlobs(ctx, []int64{second[1].ID, first[1].ID, second[0].ID, 4242})
	require.NoError(t, err)

	var texts []string
	for _, b := range got {
		texts = append(texts, b.Text)
	}
	assert.Equal(t, []string{"a1", "b0", "b1"}, texts)

	none, err := s.LoadBlobs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.ListBlobs(ctx, kc.ID)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLiteStore_ReplaceLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kc, err := s.GetOrCreateContext(ctx, "c")
	require.NoError(t, err)
	a, blobsA := seedSource(t, s, kc.ID, "a", "a0", "a1")
	b, blobsB := seedSource(t, s, kc.ID, "b", "b0")

	links := []*Link{
		{BlobID: blobsA[1].ID, TargetSourceID: b.ID, OriginDistance: 0.7, DestinationDistance: 0.2},
		{BlobID: blobsB[0].ID, TargetSourceID: a.ID, OriginDistance: 0.6, DestinationDistance: 0.3},
	}
	require.NoError(t, s.ReplaceLinks(ctx, kc.ID, links))
	require.NoError(t, s.ReplaceLinks(ctx, kc.ID, links))

	got, err := s.ListLinks(ctx, kc.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, blobsA[1].ID, got[0].BlobID)
	assert.InDelta(t, 0.2, got[0].DestinationDistance, 1e-12)

	counts, err := s.Count(ctx, kc.ID)
	require.NoError(t, err)
	assert.Equal(t, Counts{Sources: 2, Blobs: 3, Links: 2}, counts)

	require.NoError(t, s.ReplaceLinks(ctx, kc.ID, nil))
	got, err = s.ListLinks(ctx, kc.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_DeleteContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kc, err := s.GetOrCreateContext(ctx, "gone")
	require.NoError(t, err)
	keep, err := s.GetOrCreateContext(ctx, "keep")
	require.NoError(t, err)

	a, blobsA := seedSource(t, s, kc.ID, "a", "a0")
	k, blobsK := seedSource(t, s, keep.ID, "k", "k0")
	require.NoError(t, s.ReplaceLinks(ctx, kc.ID, []*Link{
		{BlobID: blobsA[0].ID, TargetSourceID: a.ID},
	}))
	require.NoError(t, s.ReplaceLinks(ctx, keep.ID, []*Link{
		{BlobID: blobsK[0].ID, TargetSourceID: k.ID},
	}))

	require.NoError(t, s.DeleteContext(ctx, kc.ID))

	_, err = s.GetContext(ctx, "gone")
	assert.ErrorIs(t, err, ErrContextNotFound)

	counts, err := s.Count(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, Counts{Sources: 1, Blobs: 1, Links: 1}, counts)

	assert.ErrorIs(t, s.DeleteContext(ctx, kc.ID), ErrContextNotFound)
}

func TestSQLiteStore_AddSourceIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kc, err := s.GetOrCreateContext(ctx, "docs")
	require.NoError(t, err)

	src := &Source{ContextID: kc.ID, Name: "a.md", Hash: "h-a", VectorHex: "0000803f"}
	blobs := []*Blob{
		{Text: "one", BlobIndex: 0, VectorHex: "0000803f"},
		{Text: "two", BlobIndex: 1, Start: 4, VectorHex: "00000040"},
	}
	require.NoError(t, s.AddSource(ctx, src, blobs))
	assert.NotZero(t, src.ID)
	for _, b := range blobs {
		assert.NotZero(t, b.ID)
		assert.Equal(t, src.ID, b.SourceID)
	}

	// a duplicate blob position violates the unique constraint and must
	// roll back the source row too
	dup := &Source{ContextID: kc.ID, Name: "b.md", Hash: "h-b"}
	err = s.AddSource(ctx, dup, []*Blob{
		{Text: "x", BlobIndex: 0, VectorHex: "00"},
		{Text: "y", BlobIndex: 0, VectorHex: "00"},
	})
	require.Error(t, err)
	assert.Zero(t, dup.ID)

	exists, err := s.SourceExists(ctx, kc.ID, "h-b")
	require.NoError(t, err)
	assert.False(t, exists)

	counts, err := s.Count(ctx, kc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Sources)
	assert.Equal(t, 2, counts.Blobs)
}
