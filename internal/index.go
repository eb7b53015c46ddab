package internal

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultTrees = 10

	indexExt    = ".ann"
	manifestExt = ".ann.items"
	lockExt     = ".lock"

	// exactScanLimit is the item count below which queries scan the stored
	// vectors and no engine file is written.
	exactScanLimit = 32

	// searchKFactor scales the automatic search_k with the item count.
	searchKFactor = 5

	// writerWeight is the semaphore capacity. A writer acquires all of it,
	// a reader acquires one unit.
	writerWeight = 1 << 30

	fileLockRetry = 50 * time.Millisecond
)

type IndexConfig struct {
	Dir       string
	Dimension int
	Trees     int
	// SearchK is the number of nodes a query inspects. Zero picks
	// max(k*Trees, 5*items).
	SearchK     int
	Placeholder bool
	LockTimeout time.Duration
}

// renameFile is swapped in tests to fail specific renames.
var renameFile = os.Rename

type IndexStatus struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Exists    bool      `json:"exists"`
	Loaded    bool      `json:"loaded"`
	Dimension int       `json:"dimension"`
	Items     int       `json:"items"`
	ModTime   time.Time `json:"mod_time,omitzero"`
}

// Registry hands out reader and writer sessions for named indices stored in
// one directory. It keeps one manager per name until Close.
type Registry struct {
	cfg    IndexConfig
	logger *zap.Logger

	mu       sync.Mutex
	managers map[string]*indexManager
	closed   bool
}

func NewRegistry(cfg IndexConfig, logger *zap.Logger) *Registry {
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultTrees
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		managers: make(map[string]*indexManager),
	}
}

// Dimension is the vector size writers accept. Zero means none is configured.
func (r *Registry) Dimension() int {
	return r.cfg.Dimension
}

func validIndexName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`+"\x00")
}

func (r *Registry) manager(name string) (*indexManager, error) {
	if !validIndexName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIndexName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	m, ok := r.managers[name]
	if !ok {
		base := filepath.Join(r.cfg.Dir, name)
		m = &indexManager{
			name:         name,
			cfg:          r.cfg,
			logger:       r.logger.With(zap.String("index", name)),
			manifestPath: base + manifestExt,
			lock:         semaphore.NewWeighted(writerWeight),
			fileLock:     flock.New(base + lockExt),
		}
		r.managers[name] = m
	}
	return m, nil
}

func (r *Registry) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.LockTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.LockTimeout)
	}
	return context.WithCancel(ctx)
}

// OpenReader takes shared access to the named index, loading it from disk on
// first use.
func (r *Registry) OpenReader(ctx context.Context, name string) (*IndexReader, error) {
	m, err := r.manager(name)
	if err != nil {
		return nil, err
	}

	lctx, cancel := r.lockContext(ctx)
	defer cancel()
	if err := m.lock.Acquire(lctx, 1); err != nil {
		return nil, fmt.Errorf("acquire read lock %s: %w", name, err)
	}

	live, err := m.ensureLoaded()
	if err != nil {
		m.lock.Release(1)
		return nil, err
	}

	return &IndexReader{m: m, live: live}, nil
}

// OpenWriter takes exclusive access to the named index. The session starts
// from an empty index; nothing is persisted until Commit.
func (r *Registry) OpenWriter(ctx context.Context, name string) (*IndexWriter, error) {
	m, err := r.manager(name)
	if err != nil {
		return nil, err
	}
	if r.cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, r.cfg.Dimension)
	}

	lctx, cancel := r.lockContext(ctx)
	defer cancel()
	if err := m.lock.Acquire(lctx, writerWeight); err != nil {
		return nil, fmt.Errorf("acquire write lock %s: %w", name, err)
	}

	if err := m.lockFile(lctx); err != nil {
		m.lock.Release(writerWeight)
		return nil, err
	}

	m.logger.Debug("writer opened")

	return &IndexWriter{
		m:         m,
		dimension: r.cfg.Dimension,
		items:     make(map[int64][]float32),
	}, nil
}

// WithReader runs fn with a reader that is released on every exit path.
func (r *Registry) WithReader(ctx context.Context, name string, fn func(*IndexReader) error) error {
	rd, err := r.OpenReader(ctx, name)
	if err != nil {
		return err
	}
	defer rd.Close()

	return fn(rd)
}

// WithWriter runs fn with a writer and commits only when fn returns nil.
func (r *Registry) WithWriter(ctx context.Context, name string, fn func(*IndexWriter) error) error {
	w, err := r.OpenWriter(ctx, name)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := fn(w); err != nil {
		return err
	}
	return w.Commit(ctx)
}

// Status reports what is persisted for name without loading the engine.
func (r *Registry) Status(ctx context.Context, name string) (IndexStatus, error) {
	m, err := r.manager(name)
	if err != nil {
		return IndexStatus{}, err
	}

	lctx, cancel := r.lockContext(ctx)
	defer cancel()
	if err := m.lock.Acquire(lctx, 1); err != nil {
		return IndexStatus{}, fmt.Errorf("acquire read lock %s: %w", name, err)
	}
	defer m.lock.Release(1)

	st := IndexStatus{Name: name, Path: m.manifestPath}

	m.mu.Lock()
	st.Loaded = m.live != nil
	m.mu.Unlock()

	info, err := os.Stat(m.manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("stat index %s: %w", name, err)
	}

	mf, err := readManifest(m.manifestPath)
	if err != nil {
		return st, err
	}

	st.Exists = true
	st.ModTime = info.ModTime()
	st.Dimension = mf.Dimension
	st.Items = len(mf.Items)
	return st, nil
}

// Remove deletes the persisted files of name and drops its loaded engine.
func (r *Registry) Remove(ctx context.Context, name string) error {
	m, err := r.manager(name)
	if err != nil {
		return err
	}

	lctx, cancel := r.lockContext(ctx)
	defer cancel()
	if err := m.lock.Acquire(lctx, writerWeight); err != nil {
		return fmt.Errorf("acquire write lock %s: %w", name, err)
	}
	defer m.lock.Release(writerWeight)

	if err := m.lockFile(lctx); err != nil {
		return err
	}
	defer m.unlockFile()

	m.swap(nil)

	var engineFile string
	if mf, err := readManifest(m.manifestPath); err == nil {
		engineFile = mf.Engine
	}
	if err := os.Remove(m.manifestPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", m.manifestPath, err)
	}
	m.removeEngineFile(engineFile)

	m.logger.Info("index removed")
	return nil
}

// Close releases every loaded engine. Open sessions must be closed first.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, m := range r.managers {
		m.swap(nil)
	}
	return nil
}

type indexManager struct {
	name         string
	cfg          IndexConfig
	logger       *zap.Logger
	manifestPath string

	lock     *semaphore.Weighted
	fileLock *flock.Flock

	mu   sync.Mutex
	live *loadedIndex
}

// loadedIndex is one committed generation. keys maps engine ids to item ids
// and is sorted; engine is nil for indices served by exact scan.
type loadedIndex struct {
	engine    *annoyEngine
	dimension int
	keys      []int64
	items     map[int64][]float32
}

func (l *loadedIndex) close() {
	if l != nil && l.engine != nil {
		l.engine.close()
	}
}

func (m *indexManager) ensureLoaded() (*loadedIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live != nil {
		return m.live, nil
	}

	live, err := m.loadFromDisk()
	if errors.Is(err, ErrIndexNotFound) && m.cfg.Placeholder {
		live, err = m.materializePlaceholder()
	}
	if err != nil {
		return nil, err
	}

	m.live = live
	return live, nil
}

func (m *indexManager) loadFromDisk() (*loadedIndex, error) {
	mf, err := readManifest(m.manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, m.name)
	}
	if err != nil {
		return nil, err
	}

	// a concurrent commit in another process may retire the engine file
	// between reading the manifest and opening it
	if mf.Engine != "" {
		if _, err := os.Stat(m.enginePath(mf.Engine)); errors.Is(err, os.ErrNotExist) {
			if mf, err = readManifest(m.manifestPath); err != nil {
				return nil, err
			}
		}
	}

	if m.cfg.Dimension > 0 && mf.Dimension != m.cfg.Dimension {
		return nil, fmt.Errorf("%w: index %s has dimension %d, expected %d",
			ErrDimensionMismatch, m.name, mf.Dimension, m.cfg.Dimension)
	}

	items := make(map[int64][]float32, len(mf.Items))
	for id, code := range mf.Items {
		vec, err := DecodeVector(code)
		if err != nil {
			return nil, fmt.Errorf("decode item %d of %s: %w", id, m.name, err)
		}
		items[id] = vec
	}

	live := &loadedIndex{dimension: mf.Dimension, items: items}
	if mf.Engine == "" {
		live.keys = sortedKeys(items)
	} else {
		if len(mf.Keys) != len(items) {
			return nil, fmt.Errorf("manifest %s: %d keys for %d items", m.name, len(mf.Keys), len(items))
		}
		for _, id := range mf.Keys {
			if _, ok := items[id]; !ok {
				return nil, fmt.Errorf("manifest %s: key %d has no vector", m.name, id)
			}
		}
		live.keys = mf.Keys
		live.engine, err = loadAnnoyEngine(m.enginePath(mf.Engine), mf.Dimension)
		if err != nil {
			return nil, err
		}
	}

	m.logger.Debug("index loaded", zap.Int("items", len(items)), zap.Bool("exact", live.engine == nil))
	return live, nil
}

// materializePlaceholder persists an empty index so later opens find it.
func (m *indexManager) materializePlaceholder() (*loadedIndex, error) {
	if err := writeManifest(m.manifestPath, m.cfg.Dimension, "", nil, nil); err != nil {
		return nil, err
	}
	m.logger.Info("placeholder index created")
	return &loadedIndex{dimension: m.cfg.Dimension, items: map[int64][]float32{}}, nil
}

func (m *indexManager) swap(next *loadedIndex) {
	m.mu.Lock()
	prev := m.live
	m.live = next
	m.mu.Unlock()

	prev.close()
}

func (m *indexManager) enginePath(file string) string {
	return filepath.Join(m.cfg.Dir, file)
}

// saveEngine builds an engine over items in keys order and writes it to a
// file name no earlier commit used. The returned name goes into the manifest.
func (m *indexManager) saveEngine(dimension int, keys []int64, items map[int64][]float32) (string, error) {
	e := newAnnoyEngine(dimension)
	defer e.close()

	for i, id := range keys {
		e.add(uint32(i), items[id])
	}
	e.build(m.cfg.Trees)

	file := m.name + "." + strconv.FormatInt(time.Now().UnixNano(), 36) + indexExt
	path := m.enginePath(file)
	tmp := path + ".tmp"
	if err := e.save(tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := renameFile(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename index: %w", err)
	}
	return file, nil
}

func (m *indexManager) removeEngineFile(file string) {
	if file == "" {
		return
	}
	if err := os.Remove(m.enginePath(file)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("remove engine file", zap.String("file", file), zap.Error(err))
	}
}

// searchK is the node budget for one query over n items.
func (m *indexManager) searchK(k, n int) int {
	if m.cfg.SearchK > 0 {
		return max(m.cfg.SearchK, k)
	}
	return max(k*m.cfg.Trees, searchKFactor*n)
}

func (m *indexManager) lockFile(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	ok, err := m.fileLock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return fmt.Errorf("lock index %s: %w", m.name, err)
	}
	if !ok {
		return fmt.Errorf("lock index %s: not acquired", m.name)
	}
	return nil
}

func (m *indexManager) unlockFile() {
	if err := m.fileLock.Unlock(); err != nil {
		m.logger.Warn("unlock index file", zap.Error(err))
	}
}

// IndexWriter fills a fresh index. It is not safe for concurrent use.
type IndexWriter struct {
	m         *indexManager
	dimension int
	items     map[int64][]float32
	done      bool
}

func (w *IndexWriter) Add(id int64, vec []float32) error {
	if w.done {
		return ErrWriterClosed
	}
	if len(vec) != w.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, w.dimension, len(vec))
	}
	if id < 0 || id > math.MaxUint32 {
		return fmt.Errorf("%w: %d", ErrItemIDRange, id)
	}
	if _, ok := w.items[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateItemID, id)
	}

	w.items[id] = slices.Clone(vec)
	return nil
}

func (w *IndexWriter) Len() int {
	return len(w.items)
}

// Commit builds the index, persists it and reloads the live instance before
// releasing the writer. The engine goes to a fresh file and the manifest
// naming it is renamed into place last, so a failure at any step leaves the
// previous generation loadable.
func (w *IndexWriter) Commit(ctx context.Context) error {
	if w.done {
		return ErrWriterClosed
	}
	defer w.release()

	if err := ctx.Err(); err != nil {
		return err
	}

	m := w.m
	start := time.Now()

	var prevEngine string
	if prev, err := readManifest(m.manifestPath); err == nil {
		prevEngine = prev.Engine
	} else if !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("previous manifest unreadable", zap.Error(err))
	}

	keys := sortedKeys(w.items)

	var engineFile string
	if len(keys) >= exactScanLimit {
		var err error
		if engineFile, err = m.saveEngine(w.dimension, keys, w.items); err != nil {
			return err
		}
	}

	if err := writeManifest(m.manifestPath, w.dimension, engineFile, keys, w.items); err != nil {
		m.removeEngineFile(engineFile)
		return err
	}

	live, err := m.loadFromDisk()
	if err != nil {
		m.swap(nil)
		return fmt.Errorf("reload index %s: %w", m.name, err)
	}
	m.swap(live)

	if prevEngine != engineFile {
		m.removeEngineFile(prevEngine)
	}

	m.logger.Info("index committed",
		zap.Int("items", len(w.items)),
		zap.Int("trees", m.cfg.Trees),
		zap.Bool("exact", engineFile == ""),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Close aborts an uncommitted session. It is safe to call more than once.
func (w *IndexWriter) Close() error {
	if w.done {
		return nil
	}
	w.m.logger.Debug("writer aborted", zap.Int("items", len(w.items)))
	w.release()
	return nil
}

func (w *IndexWriter) release() {
	w.done = true
	w.items = nil
	w.m.unlockFile()
	w.m.lock.Release(writerWeight)
}

// IndexReader queries a loaded index. It is safe for concurrent use until
// Close.
type IndexReader struct {
	m    *indexManager
	live *loadedIndex

	mu     sync.RWMutex
	closed bool
}

func (r *IndexReader) Name() string {
	return r.m.name
}

func (r *IndexReader) Dimension() int {
	return r.live.dimension
}

func (r *IndexReader) Len() int {
	return len(r.live.items)
}

// IDs returns all item ids in ascending order.
func (r *IndexReader) IDs() []int64 {
	return slices.Clone(r.live.keys)
}

// Query returns up to k nearest items by angular distance, closest first.
// Small indices are scanned exactly. Larger ones take the engine's candidates
// and rank them by the distance to the stored vectors.
func (r *IndexReader) Query(vec []float32, k int) ([]Neighbor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrReaderClosed
	}
	if len(vec) != r.live.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, r.live.dimension, len(vec))
	}

	n := len(r.live.keys)
	if k <= 0 || n == 0 {
		return nil, nil
	}
	k = min(k, n)

	candidates := r.live.keys
	if r.live.engine != nil {
		ids, _ := r.live.engine.nearest(vec, k, r.m.searchK(k, n))
		candidates = make([]int64, 0, len(ids))
		for _, eid := range ids {
			if int(eid) < n {
				candidates = append(candidates, r.live.keys[eid])
			}
		}
	}

	out := make([]Neighbor, 0, len(candidates))
	for _, id := range candidates {
		out = append(out, Neighbor{ItemID: id, Distance: AngularDistance(vec, r.live.items[id])})
	}
	slices.SortFunc(out, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return cmp.Compare(a.ItemID, b.ItemID)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Vector returns a copy of the stored vector for id.
func (r *IndexReader) Vector(id int64) ([]float32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrReaderClosed
	}
	v, ok := r.live.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d in %s", ErrItemNotFound, id, r.m.name)
	}
	return slices.Clone(v), nil
}

func (r *IndexReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.m.lock.Release(1)
	return nil
}

// indexManifest is the commit record of an index. Engine names the engine
// file of this generation, empty when queries scan Items. Keys[i] is the
// item id behind engine id i.
type indexManifest struct {
	Dimension int              `json:"dimension"`
	Engine    string           `json:"engine,omitempty"`
	Keys      []int64          `json:"keys,omitempty"`
	Items     map[int64]string `json:"items"`
}

func readManifest(path string) (*indexManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var mf indexManifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("unmarshal manifest %s: %w", path, err)
	}
	return &mf, nil
}

func writeManifest(path string, dimension int, engine string, keys []int64, items map[int64][]float32) error {
	mf := indexManifest{Dimension: dimension, Items: make(map[int64]string, len(items))}
	if engine != "" {
		mf.Engine = engine
		mf.Keys = keys
	}
	for id, vec := range items {
		mf.Items[id] = EncodeVector(vec)
	}

	data, err := json.Marshal(mf)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write file: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close file: %w", closeErr)
	}

	if err := renameFile(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func sortedKeys(items map[int64][]float32) []int64 {
	keys := make([]int64, 0, len(items))
	for id := range items {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys
}
