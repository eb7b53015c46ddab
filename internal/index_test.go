package internal

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, mutate ...func(*IndexConfig)) *Registry {
	t.Helper()
	cfg := IndexConfig{Dir: filepath.Join(t.TempDir(), "index"), Dimension: 4, Trees: 4}
	for _, m := range mutate {
		m(&cfg)
	}
	r := NewRegistry(cfg, nil)
	t.Cleanup(func() { r.Close() })
	return r
}

var basis = map[int64][]float32{
	1: {1, 0, 0, 0},
	2: {0, 1, 0, 0},
	3: {0, 0, 1, 0},
	4: {0, 0, 0.6, 0.8},
}

func commitBasis(t *testing.T, r *Registry, name string) {
	t.Helper()
	err := r.WithWriter(context.Background(), name, func(w *IndexWriter) error {
		for _, id := range []int64{1, 2, 3, 4} {
			if err := w.Add(id, basis[id]); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// randomItems returns n gaussian vectors keyed base, base+stride, ...
func randomItems(seed uint64, n, dim int, base, stride int64) map[int64][]float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	items := make(map[int64][]float32, n)
	for i := range n {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(rng.NormFloat64())
		}
		items[base+int64(i)*stride] = vec
	}
	return items
}

func commitItems(t *testing.T, r *Registry, name string, items map[int64][]float32) {
	t.Helper()
	err := r.WithWriter(context.Background(), name, func(w *IndexWriter) error {
		for id, vec := range items {
			if err := w.Add(id, vec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// engineFiles lists the committed engine files in dir.
func engineFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), indexExt) {
			out = append(out, e.Name())
		}
	}
	return out
}

// requireSelfHits checks that every stored vector is its own nearest item.
func requireSelfHits(t *testing.T, rd *IndexReader, items map[int64][]float32) {
	t.Helper()
	misses := 0
	for id, vec := range items {
		got, err := rd.Query(vec, 3)
		require.NoError(t, err)
		if len(got) == 0 || got[0].ItemID != id || got[0].Distance > 1e-3 {
			misses++
		}
	}
	assert.Zero(t, misses, "items not returned as their own nearest neighbor")
}

func TestRegistry_CommitAndQuery(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	commitBasis(t, r, "notes_blobs")

	rd, err := r.OpenReader(ctx, "notes_blobs")
	require.NoError(t, err)
	defer rd.Close()

	assert.Equal(t, 4, rd.Len())
	assert.Equal(t, []int64{1, 2, 3, 4}, rd.IDs())

	got, err := rd.Query(basis[3], 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ItemID)
	assert.InDelta(t, 0, got[0].Distance, 1e-5)
	assert.Equal(t, int64(4), got[1].ItemID)
	assert.LessOrEqual(t, got[0].Distance, got[1].Distance)

	all, err := rd.Query(basis[1], 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	vec, err := rd.Vector(4)
	require.NoError(t, err)
	assert.Equal(t, basis[4], vec)

	_, err = rd.Vector(99)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRegistry_PersistsAcrossRegistries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	cfg := IndexConfig{Dir: dir, Dimension: 16}
	items := randomItems(1, 64, 16, 1000, 3)

	r1 := NewRegistry(cfg, nil)
	commitItems(t, r1, "docs", items)
	require.NoError(t, r1.Close())

	_, err := os.Stat(filepath.Join(dir, "docs.ann.items"))
	require.NoError(t, err)
	assert.Len(t, engineFiles(t, dir), 1)

	r2 := NewRegistry(cfg, nil)
	defer r2.Close()

	err = r2.WithReader(context.Background(), "docs", func(rd *IndexReader) error {
		assert.Equal(t, 64, rd.Len())
		requireSelfHits(t, rd, items)
		return nil
	})
	require.NoError(t, err)
}

func TestRegistry_SmallIndexHasNoEngineFile(t *testing.T) {
	r := testRegistry(t)
	commitBasis(t, r, "docs")

	assert.Empty(t, engineFiles(t, r.cfg.Dir))

	r2 := NewRegistry(r.cfg, nil)
	defer r2.Close()
	err := r2.WithReader(context.Background(), "docs", func(rd *IndexReader) error {
		got, err := rd.Query(basis[2], 1)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), got[0].ItemID)
		return nil
	})
	require.NoError(t, err)
}

func TestRegistry_SparseItemIDs(t *testing.T) {
	cases := []struct {
		name   string
		base   int64
		stride int64
		n      int
	}{
		{"single item zero", 0, 1, 1},
		{"single item", 8, 1, 1},
		{"base one scanned", 1, 1, 30},
		{"base five", 5, 1, 40},
		{"base hundred", 100, 7, 40},
		{"base thousand", 1000, 13, 200},
		{"near uint32 max", math.MaxUint32 - 100, 2, 50},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := testRegistry(t, func(c *IndexConfig) { c.Dimension = 16 })
			items := randomItems(uint64(i+10), tc.n, 16, tc.base, tc.stride)
			commitItems(t, r, "sparse", items)

			want := make([]int64, 0, len(items))
			for id := range items {
				want = append(want, id)
			}
			slices.Sort(want)

			err := r.WithReader(context.Background(), "sparse", func(rd *IndexReader) error {
				assert.Equal(t, tc.n, rd.Len())
				assert.Equal(t, want, rd.IDs())
				requireSelfHits(t, rd, items)

				got, err := rd.Query(items[want[0]], tc.n+5)
				require.NoError(t, err)
				assert.Len(t, got, tc.n)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestRegistry_SelfHitsHighDimension(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a 1000 item index")
	}
	r := testRegistry(t, func(c *IndexConfig) {
		c.Dimension = 384
		c.Trees = DefaultTrees
	})
	items := randomItems(42, 1000, 384, 0, 1)
	commitItems(t, r, "wide", items)

	err := r.WithReader(context.Background(), "wide", func(rd *IndexReader) error {
		requireSelfHits(t, rd, items)
		return nil
	})
	require.NoError(t, err)
}

func TestRegistry_NotFound(t *testing.T) {
	r := testRegistry(t)

	_, err := r.OpenReader(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrIndexNotFound)

	// the failed open must not leak read access
	w, err := r.OpenWriter(context.Background(), "missing")
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestRegistry_Placeholder(t *testing.T) {
	r := testRegistry(t, func(c *IndexConfig) { c.Placeholder = true })

	rd, err := r.OpenReader(context.Background(), "fresh")
	require.NoError(t, err)
	defer rd.Close()

	assert.Equal(t, 0, rd.Len())
	got, err := rd.Query([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	st, err := r.Status(context.Background(), "fresh")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 0, st.Items)
}

func TestRegistry_InvalidName(t *testing.T) {
	r := testRegistry(t)

	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := r.OpenReader(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidIndexName, name)
	}
}

func TestIndexWriter_AddValidation(t *testing.T) {
	r := testRegistry(t)

	w, err := r.OpenWriter(context.Background(), "v")
	require.NoError(t, err)
	defer w.Close()

	assert.ErrorIs(t, w.Add(1, []float32{1, 2}), ErrDimensionMismatch)
	require.NoError(t, w.Add(1, basis[1]))
	assert.ErrorIs(t, w.Add(1, basis[2]), ErrDuplicateItemID)
	assert.ErrorIs(t, w.Add(-1, basis[2]), ErrItemIDRange)
	assert.ErrorIs(t, w.Add(1<<33, basis[2]), ErrItemIDRange)
	assert.Equal(t, 1, w.Len())
}

func TestIndexReader_QueryDimensionMismatch(t *testing.T) {
	r := testRegistry(t)
	commitBasis(t, r, "q")

	err := r.WithReader(context.Background(), "q", func(rd *IndexReader) error {
		_, err := rd.Query([]float32{1, 0}, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIndexWriter_AbortDoesNotPersist(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	commitBasis(t, r, "abort")

	boom := errors.New("boom")
	err := r.WithWriter(ctx, "abort", func(w *IndexWriter) error {
		require.NoError(t, w.Add(9, []float32{1, 1, 1, 1}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := r.OpenWriter(ctx, "abort")
	require.NoError(t, err)
	require.NoError(t, w.Add(10, basis[1]))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Add(11, basis[1]), ErrWriterClosed)
	assert.ErrorIs(t, w.Commit(ctx), ErrWriterClosed)

	err = r.WithReader(ctx, "abort", func(rd *IndexReader) error {
		assert.Equal(t, []int64{1, 2, 3, 4}, rd.IDs())
		return nil
	})
	require.NoError(t, err)
}

func TestIndexWriter_EmptyCommit(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	commitItems(t, r, "empty", randomItems(3, 40, 4, 1, 1))
	require.Len(t, engineFiles(t, r.cfg.Dir), 1)

	require.NoError(t, r.WithWriter(ctx, "empty", func(w *IndexWriter) error { return nil }))

	err := r.WithReader(ctx, "empty", func(rd *IndexReader) error {
		assert.Equal(t, 0, rd.Len())
		got, err := rd.Query(basis[1], 3)
		assert.Empty(t, got)
		return err
	})
	require.NoError(t, err)

	assert.Empty(t, engineFiles(t, r.cfg.Dir))
}

func TestIndexWriter_RecommitRetiresPreviousEngine(t *testing.T) {
	r := testRegistry(t)
	commitItems(t, r, "gen", randomItems(4, 40, 4, 1, 1))
	first := engineFiles(t, r.cfg.Dir)
	require.Len(t, first, 1)

	next := randomItems(5, 48, 4, 500, 1)
	commitItems(t, r, "gen", next)
	second := engineFiles(t, r.cfg.Dir)
	require.Len(t, second, 1)
	assert.NotEqual(t, first, second)

	err := r.WithReader(context.Background(), "gen", func(rd *IndexReader) error {
		requireSelfHits(t, rd, next)
		return nil
	})
	require.NoError(t, err)
}

func TestIndexWriter_FailedCommitKeepsPreviousGeneration(t *testing.T) {
	cases := map[string]string{
		"engine rename fails":   indexExt,
		"manifest rename fails": manifestExt,
	}
	for name, suffix := range cases {
		t.Run(name, func(t *testing.T) {
			r := testRegistry(t)
			ctx := context.Background()
			old := randomItems(6, 40, 4, 1, 1)
			commitItems(t, r, "keep", old)
			before := engineFiles(t, r.cfg.Dir)

			renameFile = func(from, to string) error {
				if strings.HasSuffix(to, suffix) {
					return errors.New("disk full")
				}
				return os.Rename(from, to)
			}
			t.Cleanup(func() { renameFile = os.Rename })

			err := r.WithWriter(ctx, "keep", func(w *IndexWriter) error {
				for id, vec := range randomItems(7, 50, 4, 900, 1) {
					if err := w.Add(id, vec); err != nil {
						return err
					}
				}
				return nil
			})
			require.Error(t, err)
			renameFile = os.Rename

			assert.Equal(t, before, engineFiles(t, r.cfg.Dir))

			// the live instance and a cold load both still serve the old items
			err = r.WithReader(ctx, "keep", func(rd *IndexReader) error {
				assert.Equal(t, len(old), rd.Len())
				requireSelfHits(t, rd, old)
				return nil
			})
			require.NoError(t, err)

			cold := NewRegistry(r.cfg, nil)
			defer cold.Close()
			err = cold.WithReader(ctx, "keep", func(rd *IndexReader) error {
				assert.Equal(t, len(old), rd.Len())
				requireSelfHits(t, rd, old)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestRegistry_ReaderSeesSnapshotUntilClosed(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	commitBasis(t, r, "snap")

	rd, err := r.OpenReader(ctx, "snap")
	require.NoError(t, err)

	committed := make(chan error, 1)
	go func() {
		committed <- r.WithWriter(ctx, "snap", func(w *IndexWriter) error {
			return w.Add(42, []float32{0, 0, 0, 1})
		})
	}()

	// The writer cannot finish while the reader is open.
	select {
	case err := <-committed:
		t.Fatalf("writer finished while reader was open: %v", err)
	default:
	}
	got, err := rd.Query([]float32{0, 0, 0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got[0].ItemID)
	assert.Equal(t, 4, rd.Len())

	require.NoError(t, rd.Close())
	require.NoError(t, rd.Close())
	require.NoError(t, <-committed)

	_, err = rd.Query(basis[1], 1)
	assert.ErrorIs(t, err, ErrReaderClosed)

	err = r.WithReader(ctx, "snap", func(rd *IndexReader) error {
		assert.Equal(t, []int64{42}, rd.IDs())
		return nil
	})
	require.NoError(t, err)
}

func TestRegistry_WriterBlockedByReader(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	commitBasis(t, r, "block")

	rd, err := r.OpenReader(ctx, "block")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = r.OpenWriter(short, "block")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, rd.Close())

	w, err := r.OpenWriter(ctx, "block")
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestRegistry_WaitingWriterBlocksNewReaders(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	commitBasis(t, r, "fifo")

	rd, err := r.OpenReader(ctx, "fifo")
	require.NoError(t, err)

	writerIn := make(chan *IndexWriter, 1)
	go func() {
		w, err := r.OpenWriter(ctx, "fifo")
		if err == nil {
			writerIn <- w
		}
		close(writerIn)
	}()

	// Once the writer is queued, new readers have to wait behind it.
	require.Eventually(t, func() bool {
		short, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()
		other, err := r.OpenReader(short, "fifo")
		if err != nil {
			return errors.Is(err, context.DeadlineExceeded)
		}
		other.Close()
		return false
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, rd.Close())

	w := <-writerIn
	require.NotNil(t, w)
	require.NoError(t, w.Close())
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	commitBasis(t, r, "many")

	first, err := r.OpenReader(ctx, "many")
	require.NoError(t, err)
	second, err := r.OpenReader(ctx, "many")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, rd := range []*IndexReader{first, second} {
		for id, vec := range basis {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := rd.Query(vec, 1)
				assert.NoError(t, err)
				if assert.Len(t, got, 1) {
					assert.Equal(t, id, got[0].ItemID)
				}
			}()
		}
	}
	wg.Wait()

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
}

func TestRegistry_WritersOnDifferentNamesIndependent(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	a, err := r.OpenWriter(ctx, "a")
	require.NoError(t, err)
	defer a.Close()

	b, err := r.OpenWriter(ctx, "b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Add(1, basis[1]))
	require.NoError(t, b.Commit(ctx))
}

func TestRegistry_StatusAndRemove(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	st, err := r.Status(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	commitBasis(t, r, "gone")

	st, err = r.Status(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.True(t, st.Loaded)
	assert.Equal(t, 4, st.Items)
	assert.Equal(t, 4, st.Dimension)
	assert.False(t, st.ModTime.IsZero())

	commitItems(t, r, "gone", randomItems(8, 40, 4, 1, 1))
	require.Len(t, engineFiles(t, r.cfg.Dir), 1)

	require.NoError(t, r.Remove(ctx, "gone"))
	assert.Empty(t, engineFiles(t, r.cfg.Dir))

	_, err = r.OpenReader(ctx, "gone")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestRegistry_Closed(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Close())

	_, err := r.OpenReader(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRegistryClosed)
}
