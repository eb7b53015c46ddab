package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Workspace owns the store, indices and lazily built model clients of one
// scope.
type Workspace struct {
	Scope   Scope
	Config  *Config
	Store   KnowledgeStore
	Indices *Registry

	logger *zap.Logger

	mu        sync.Mutex
	embedder  Embedder
	tokenizer Tokenizer
	chunker   *Chunker
}

type WorkspaceOption func(*Workspace)

func WithWorkspaceLogger(logger *zap.Logger) WorkspaceOption {
	return func(w *Workspace) { w.logger = logger }
}

// WithEmbedder replaces the configured embedding backend.
func WithEmbedder(e Embedder) WorkspaceOption {
	return func(w *Workspace) { w.embedder = e }
}

// WithTokenizer replaces the configured tiktoken encoding.
func WithTokenizer(t Tokenizer) WorkspaceOption {
	return func(w *Workspace) { w.tokenizer = t }
}

// OpenWorkspace loads the scope's config and opens its database and index
// registry.
func OpenWorkspace(scope Scope, opts ...WorkspaceOption) (*Workspace, error) {
	cfg, err := LoadConfig(scope)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	w := &Workspace{Scope: scope, Config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}

	store, err := NewSQLiteStore(scope.DatabasePath())
	if err != nil {
		return nil, err
	}
	w.Store = store
	w.Indices = NewRegistry(cfg.IndexConfig(scope), w.logger.Named("index"))

	w.logger.Debug("workspace opened",
		zap.String("scope", string(scope.Type)),
		zap.String("path", scope.WizzPath))
	return w, nil
}

// InitWorkspace creates the workspace directories and a default config
// file when none exists. It reports whether the config was written.
func InitWorkspace(scope Scope) (bool, error) {
	for _, dir := range []string{scope.WizzPath, scope.IndexPath(), scope.CachePath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(scope.ConfigPath()); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config: %w", err)
	}

	if err := SaveConfig(scope, DefaultConfig()); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Workspace) Embedder() (Embedder, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.embedder == nil {
		e, err := NewEmbedder(w.Config.Embeddings)
		if err != nil {
			return nil, err
		}
		w.embedder = e
	}
	return w.embedder, nil
}

func (w *Workspace) Chunker() (*Chunker, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.chunker != nil {
		return w.chunker, nil
	}
	if w.tokenizer == nil {
		tok, err := NewTiktokenTokenizer(w.Config.Chunking.Encoding, w.Scope.CachePath())
		if err != nil {
			return nil, err
		}
		w.tokenizer = tok
	}

	c, err := NewChunker(w.tokenizer, w.Config.ChunkerOptions()...)
	if err != nil {
		return nil, err
	}
	w.chunker = c
	return c, nil
}

// Knowledge returns a service over the workspace. Embedding and chunking
// are only set up when asked for, so listing and forgetting work without
// model access.
func (w *Workspace) Knowledge(embed, chunk bool) (*KnowledgeService, error) {
	var (
		e   Embedder
		c   *Chunker
		err error
	)
	if embed {
		if e, err = w.Embedder(); err != nil {
			return nil, err
		}
	}
	if chunk {
		if c, err = w.Chunker(); err != nil {
			return nil, err
		}
	}
	return NewKnowledgeService(w.Store, w.Indices, e, c, w.logger.Named("knowledge")), nil
}

func (w *Workspace) Logger() *zap.Logger {
	return w.logger
}

func (w *Workspace) Linker() *Linker {
	detector := OutlierDetector{Multiplier: w.Config.Outliers.Multiplier}
	return NewLinker(w.Store, w.Indices, detector, w.logger.Named("linker"))
}

// Provider builds the named chat provider, or the default one.
func (w *Workspace) Provider(ctx context.Context, name string) (Provider, error) {
	name, cfg, err := w.Config.Provider(name)
	if err != nil {
		return nil, err
	}
	return NewProviderFromConfig(ctx, name, cfg)
}

// Prompts loads the configured prompt file. Relative paths are taken from
// the workspace directory.
func (w *Workspace) Prompts() (*Prompts, error) {
	p := w.Config.Retrieval.Prompts
	if p != "" && !filepath.IsAbs(p) {
		p = filepath.Join(w.Scope.WizzPath, p)
	}
	return LoadPrompts(p)
}

func (w *Workspace) Close() error {
	var errs []error
	if w.embedder != nil {
		errs = append(errs, w.embedder.Close())
	}
	if w.Indices != nil {
		errs = append(errs, w.Indices.Close())
	}
	if w.Store != nil {
		errs = append(errs, w.Store.Close())
	}
	return errors.Join(errs...)
}
