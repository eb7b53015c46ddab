package internal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testScope(t *testing.T) Scope {
	t.Helper()
	dir := t.TempDir()
	return Scope{
		Type:     ScopeExplicit,
		Path:     dir,
		WizzPath: filepath.Join(dir, DirName),
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Embeddings.Backend != "openai" {
		t.Errorf("expected backend 'openai', got %q", cfg.Embeddings.Backend)
	}
	if cfg.Embeddings.Dimension != 384 {
		t.Errorf("expected dimension 384, got %d", cfg.Embeddings.Dimension)
	}
	if cfg.Chunking.Size != 100 || cfg.Chunking.Overlap != 5 {
		t.Errorf("chunking = %d/%d, want 100/5", cfg.Chunking.Size, cfg.Chunking.Overlap)
	}
	if cfg.Providers == nil {
		t.Error("expected providers map to be initialized")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	scope := testScope(t)

	cfg := DefaultConfig()
	cfg.DefaultProvider = "myp"
	cfg.Providers["myp"] = ProviderConfig{
		Kind:   "openai",
		APIKey: "sk-test",
		Model:  "gpt-4",
	}
	cfg.Index.LockTimeout = 3 * time.Second

	if err := SaveConfig(scope, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadConfig(scope)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.DefaultProvider != "myp" {
		t.Errorf("default provider = %q, want %q", loaded.DefaultProvider, "myp")
	}
	if loaded.Index.LockTimeout != 3*time.Second {
		t.Errorf("lock timeout = %v, want 3s", loaded.Index.LockTimeout)
	}
	if p, ok := loaded.Providers["myp"]; !ok {
		t.Error("expected provider 'myp' to exist")
	} else {
		if p.APIKey != "sk-test" {
			t.Errorf("api key = %q, want %q", p.APIKey, "sk-test")
		}
		if p.Kind != "openai" {
			t.Errorf("kind = %q, want %q", p.Kind, "openai")
		}
	}
}

func TestLoadConfigMissing(t *testing.T) {
	scope := testScope(t)

	cfg, err := LoadConfig(scope)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Retrieval.K != DefaultSearchK {
		t.Errorf("k = %d, want %d", cfg.Retrieval.K, DefaultSearchK)
	}
}

func TestLoadConfigPartial(t *testing.T) {
	scope := testScope(t)
	if err := os.MkdirAll(scope.WizzPath, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data := "embeddings:\n  backend: hash\n  dimension: 16\n"
	if err := os.WriteFile(scope.ConfigPath(), []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(scope)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Embeddings.Backend != "hash" || cfg.Embeddings.Dimension != 16 {
		t.Errorf("embeddings = %+v", cfg.Embeddings)
	}
	if cfg.Chunking.Size != DefaultChunkSize {
		t.Errorf("chunk size = %d, want default %d", cfg.Chunking.Size, DefaultChunkSize)
	}
	if cfg.Embeddings.CacheSize != DefaultEmbeddingCacheSize {
		t.Errorf("cache size = %d, want default", cfg.Embeddings.CacheSize)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	scope := testScope(t)
	if err := os.MkdirAll(scope.WizzPath, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(scope.ConfigPath(), []byte("embeddings: [\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := LoadConfig(scope); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chunking.Overlap = cfg.Chunking.Size
	cfg.DefaultProvider = "missing"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrInvalidChunking) {
		t.Errorf("expected ErrInvalidChunking in %v", err)
	}
}

func TestConfigValidateSearchK(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Index.SearchK != 0 {
		t.Errorf("expected automatic search_k by default, got %d", cfg.Index.SearchK)
	}

	cfg.Index.SearchK = -1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "index.search_k") {
		t.Errorf("expected index.search_k error, got %v", err)
	}
}

func TestConfigProvider(t *testing.T) {
	cfg := DefaultConfig()
	if _, _, err := cfg.Provider(""); !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}

	cfg.Providers["a"] = ProviderConfig{Kind: "anthropic", Model: "claude"}
	cfg.DefaultProvider = "a"

	name, p, err := cfg.Provider("")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if name != "a" || p.Kind != "anthropic" {
		t.Errorf("got %q %+v", name, p)
	}
}

func TestConfigIndexConfig(t *testing.T) {
	scope := testScope(t)
	cfg := DefaultConfig()
	cfg.Index.Placeholder = true
	cfg.Index.SearchK = 4000

	ic := cfg.IndexConfig(scope)
	if ic.Dir != scope.IndexPath() {
		t.Errorf("dir = %q, want %q", ic.Dir, scope.IndexPath())
	}
	if ic.Dimension != cfg.Embeddings.Dimension || !ic.Placeholder || ic.SearchK != 4000 {
		t.Errorf("unexpected index config %+v", ic)
	}
}
