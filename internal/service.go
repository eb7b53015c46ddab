package internal

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// KnowledgeService ingests documents into contexts and answers similarity
// queries against their indices.
type KnowledgeService struct {
	store    KnowledgeStore
	indices  *Registry
	embedder Embedder
	chunker  *Chunker
	logger   *zap.Logger
}

func NewKnowledgeService(
	store KnowledgeStore,
	indices *Registry,
	embedder Embedder,
	chunker *Chunker,
	logger *zap.Logger,
) *KnowledgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeService{
		store:    store,
		indices:  indices,
		embedder: embedder,
		chunker:  chunker,
		logger:   logger,
	}
}

type IngestReport struct {
	Context string `json:"context"`
	Loaded  int    `json:"loaded"`
	Skipped int    `json:"skipped"`
	Empty   int    `json:"empty"`
	Blobs   int    `json:"blobs"`
}

// Ingest stores every new document of src in the named context and rebuilds
// the context's indices. Documents whose hash is already present are
// skipped.
func (s *KnowledgeService) Ingest(ctx context.Context, contextName string, src DocumentSource) (*IngestReport, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	if s.chunker == nil {
		return nil, fmt.Errorf("%w: no chunker configured", ErrInvalidChunking)
	}

	kc, err := s.store.GetOrCreateContext(ctx, contextName)
	if err != nil {
		return nil, err
	}

	report := &IngestReport{Context: kc.Name}
	err = src.Documents(ctx, func(doc Document) error {
		exists, err := s.store.SourceExists(ctx, kc.ID, doc.Hash)
		if err != nil {
			return err
		}
		if exists {
			report.Skipped++
			s.logger.Debug("source already loaded", zap.String("name", doc.Name))
			return nil
		}

		n, err := s.ingestDocument(ctx, kc, doc)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", doc.Name, err)
		}
		if n == 0 {
			report.Empty++
		}
		report.Loaded++
		report.Blobs += n
		return nil
	})
	if report.Loaded > 0 {
		if rerr := s.RebuildIndices(ctx, kc); rerr != nil {
			return report, errors.Join(err, rerr)
		}
	}
	if err != nil {
		return report, err
	}

	s.logger.Info("sources loaded",
		zap.String("context", kc.Name),
		zap.Int("loaded", report.Loaded),
		zap.Int("skipped", report.Skipped),
		zap.Int("blobs", report.Blobs))
	return report, nil
}

func (s *KnowledgeService) ingestDocument(ctx context.Context, kc *KnowledgeContext, doc Document) (int, error) {
	var chunks []Chunk
	for c := range s.chunker.Split(doc.Text).All() {
		chunks = append(chunks, c)
	}

	src := &Source{ContextID: kc.ID, Name: doc.Name, Hash: doc.Hash}
	if len(chunks) == 0 {
		return 0, s.store.AddSource(ctx, src, nil)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	blobs := make([]*Blob, len(chunks))
	for i, c := range chunks {
		if dim := s.indices.Dimension(); dim > 0 && len(vecs[i]) != dim {
			return 0, fmt.Errorf("%w: embedder returned %d, index expects %d", ErrDimensionMismatch, len(vecs[i]), dim)
		}
		blobs[i] = &Blob{
			Text:      c.Text,
			BlobIndex: i,
			Start:     c.Start,
			VectorHex: EncodeVector(vecs[i]),
		}
	}
	src.VectorHex = EncodeVector(Centroid(vecs))

	// the source row carries the dedup hash, so it must only land together
	// with its blobs
	if err := s.store.AddSource(ctx, src, blobs); err != nil {
		return 0, err
	}
	return len(blobs), nil
}

// RebuildIndices re-registers every stored blob and source vector of kc
// into fresh writer sessions. Nothing is re-embedded.
func (s *KnowledgeService) RebuildIndices(ctx context.Context, kc *KnowledgeContext) error {
	blobs, err := s.store.ListBlobs(ctx, kc.ID)
	if err != nil {
		return err
	}
	err = s.indices.WithWriter(ctx, kc.BlobIndex(), func(w *IndexWriter) error {
		for _, b := range blobs {
			if err := addEncoded(w, b.ID, b.VectorHex); err != nil {
				return fmt.Errorf("blob %d: %w", b.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", kc.BlobIndex(), err)
	}

	sources, err := s.store.ListSources(ctx, kc.ID)
	if err != nil {
		return err
	}
	err = s.indices.WithWriter(ctx, kc.SourceIndex(), func(w *IndexWriter) error {
		for _, src := range sources {
			if src.VectorHex == "" {
				continue
			}
			if err := addEncoded(w, src.ID, src.VectorHex); err != nil {
				return fmt.Errorf("source %d: %w", src.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", kc.SourceIndex(), err)
	}

	s.logger.Info("indices rebuilt",
		zap.String("context", kc.Name),
		zap.Int("blobs", len(blobs)),
		zap.Int("sources", len(sources)))
	return nil
}

func addEncoded(w *IndexWriter, id int64, code string) error {
	vec, err := DecodeVector(code)
	if err != nil {
		return err
	}
	return w.Add(id, vec)
}

// Rebuild looks up the named context and rebuilds its indices.
func (s *KnowledgeService) Rebuild(ctx context.Context, contextName string) error {
	kc, err := s.store.GetContext(ctx, contextName)
	if err != nil {
		return err
	}
	return s.RebuildIndices(ctx, kc)
}

type SearchHit struct {
	BlobID   int64   `json:"blob_id"`
	SourceID int64   `json:"source_id"`
	Source   string  `json:"source"`
	Start    int     `json:"start"`
	Text     string  `json:"text"`
	Distance float32 `json:"distance"`
	Score    float32 `json:"score"`
}

var _ Searcher = (*KnowledgeService)(nil)

// Search embeds query and returns the k nearest blobs of the context,
// ordered by source and position.
func (s *KnowledgeService) Search(ctx context.Context, contextName, query string, k int) ([]SearchHit, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}

	kc, err := s.store.GetContext(ctx, contextName)
	if err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var neighbors []Neighbor
	err = s.indices.WithReader(ctx, kc.BlobIndex(), func(rd *IndexReader) error {
		var err error
		neighbors, err = rd.Query(vec, k)
		return err
	})
	if err != nil {
		return nil, err
	}

	dist := make(map[int64]float32, len(neighbors))
	ids := make([]int64, len(neighbors))
	for i, n := range neighbors {
		dist[n.ItemID] = n.Distance
		ids[i] = n.ItemID
	}

	blobs, err := s.store.LoadBlobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	names, err := s.sourceNames(ctx, kc.ID)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(blobs))
	for i, b := range blobs {
		n := Neighbor{ItemID: b.ID, Distance: dist[b.ID]}
		hits[i] = SearchHit{
			BlobID:   b.ID,
			SourceID: b.SourceID,
			Source:   names[b.SourceID],
			Start:    b.Start,
			Text:     b.Text,
			Distance: n.Distance,
			Score:    n.Score(),
		}
	}
	return hits, nil
}

func (s *KnowledgeService) sourceNames(ctx context.Context, contextID int64) (map[int64]string, error) {
	sources, err := s.store.ListSources(ctx, contextID)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(sources))
	for _, src := range sources {
		names[src.ID] = src.Name
	}
	return names, nil
}

// Forget deletes the context with everything stored for it, including its
// index files.
func (s *KnowledgeService) Forget(ctx context.Context, contextName string) error {
	kc, err := s.store.GetContext(ctx, contextName)
	if err != nil {
		return err
	}
	if err := s.store.DeleteContext(ctx, kc.ID); err != nil {
		return err
	}

	var errs []error
	for _, name := range []string{kc.BlobIndex(), kc.SourceIndex()} {
		if err := s.indices.Remove(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("context forgotten", zap.String("context", kc.Name))
	return errors.Join(errs...)
}

type ContextSummary struct {
	*KnowledgeContext
	Counts
}

func (s *KnowledgeService) Contexts(ctx context.Context) ([]ContextSummary, error) {
	contexts, err := s.store.ListContexts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ContextSummary, 0, len(contexts))
	for _, kc := range contexts {
		c, err := s.store.Count(ctx, kc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ContextSummary{KnowledgeContext: kc, Counts: c})
	}
	return out, nil
}

func (s *KnowledgeService) Sources(ctx context.Context, contextName string) ([]*Source, error) {
	kc, err := s.store.GetContext(ctx, contextName)
	if err != nil {
		return nil, err
	}
	return s.store.ListSources(ctx, kc.ID)
}

func (s *KnowledgeService) Links(ctx context.Context, contextName string) ([]*Link, error) {
	kc, err := s.store.GetContext(ctx, contextName)
	if err != nil {
		return nil, err
	}
	return s.store.ListLinks(ctx, kc.ID)
}

// IndexStatus reports both indices of the context.
func (s *KnowledgeService) IndexStatus(ctx context.Context, contextName string) ([]IndexStatus, error) {
	out := make([]IndexStatus, 0, 2)
	for _, name := range []string{BlobIndexName(contextName), SourceIndexName(contextName)} {
		st, err := s.indices.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ProviderService manages chat provider configuration
type ProviderService struct {
	resolver *ScopeResolver
}

func NewProviderService(resolver *ScopeResolver) *ProviderService {
	return &ProviderService{resolver: resolver}
}

func (s *ProviderService) List(scopeHint string) ([]string, string, error) {
	scope := s.resolver.Resolve(scopeHint)
	cfg, err := LoadConfig(scope)
	if err != nil {
		return nil, "", err
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, cfg.DefaultProvider, nil
}

func (s *ProviderService) Add(name string, providerCfg ProviderConfig, scopeHint string) error {
	if providerCfg.Kind == "" {
		providerCfg.Kind = name
	}
	if !slices.Contains(ProviderKinds, providerCfg.Kind) {
		return fmt.Errorf("%w: unsupported kind %q", ErrNoProvider, providerCfg.Kind)
	}

	scope := s.resolver.Resolve(scopeHint)
	cfg, err := LoadConfig(scope)
	if err != nil {
		return err
	}

	cfg.Providers[name] = providerCfg
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = name
	}
	return SaveConfig(scope, cfg)
}

func (s *ProviderService) Remove(name, scopeHint string) error {
	scope := s.resolver.Resolve(scopeHint)
	cfg, err := LoadConfig(scope)
	if err != nil {
		return err
	}

	if _, exists := cfg.Providers[name]; !exists {
		return fmt.Errorf("%w: %q", ErrNoProvider, name)
	}

	delete(cfg.Providers, name)
	if cfg.DefaultProvider == name {
		cfg.DefaultProvider = ""
	}
	return SaveConfig(scope, cfg)
}

func (s *ProviderService) SetDefault(name, scopeHint string) error {
	scope := s.resolver.Resolve(scopeHint)
	cfg, err := LoadConfig(scope)
	if err != nil {
		return err
	}

	if _, exists := cfg.Providers[name]; !exists {
		return fmt.Errorf("%w: %q", ErrNoProvider, name)
	}

	cfg.DefaultProvider = name
	return SaveConfig(scope, cfg)
}

func (s *ProviderService) Test(ctx context.Context, name, scopeHint string) error {
	scope := s.resolver.Resolve(scopeHint)
	cfg, err := LoadConfig(scope)
	if err != nil {
		return err
	}

	name, providerCfg, err := cfg.Provider(name)
	if err != nil {
		return err
	}

	provider, err := NewProviderFromConfig(ctx, name, providerCfg)
	if err != nil {
		return err
	}

	_, err = provider.Complete(ctx, "Say hello")
	return err
}
