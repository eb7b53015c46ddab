package internal

import (
	"context"
	"time"
)

// KnowledgeContext is a named collection of sources with its own pair of
// indices.
type KnowledgeContext struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *KnowledgeContext) BlobIndex() string {
	return BlobIndexName(c.Name)
}

func (c *KnowledgeContext) SourceIndex() string {
	return SourceIndexName(c.Name)
}

func BlobIndexName(name string) string { return name + "_blobs" }
func SourceIndexName(name string) string { return name + "_sources" }

// Source is one ingested document. VectorHex is the encoded document vector.
type Source struct {
	ID        int64     `json:"id"`
	ContextID int64     `json:"context_id"`
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	VectorHex string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Blob is one chunk of a source.
type Blob struct {
	ID        int64  `json:"id"`
	SourceID  int64  `json:"source_id"`
	Text      string `json:"text"`
	BlobIndex int    `json:"blob_index"`
	Start     int    `json:"start"`
	VectorHex string `json:"-"`
}

// Link ties an outlying blob to the document it is closest to.
type Link struct {
	ID                  int64   `json:"id"`
	BlobID              int64   `json:"blob_id"`
	TargetSourceID      int64   `json:"target_source_id"`
	OriginDistance      float64 `json:"origin_distance"`
	DestinationDistance float64 `json:"destination_distance"`
}

type Counts struct {
	Sources int `json:"sources"`
	Blobs   int `json:"blobs"`
	Links   int `json:"links"`
}

type KnowledgeStore interface {
	GetOrCreateContext(ctx context.Context, name string) (*KnowledgeContext, error)
	GetContext(ctx context.Context, name string) (*KnowledgeContext, error)
	ListContexts(ctx context.Context) ([]*KnowledgeContext, error)
	DeleteContext(ctx context.Context, contextID int64) error

	SourceExists(ctx context.Context, contextID int64, hash string) (bool, error)
	CreateSource(ctx context.Context, src *Source) error
	AddSource(ctx context.Context, src *Source, blobs []*Blob) error
	UpdateSourceVector(ctx context.Context, sourceID int64, vectorHex string) error
	ListSources(ctx context.Context, contextID int64) ([]*Source, error)

	CreateBlobs(ctx context.Context, blobs []*Blob) error
	ListBlobs(ctx context.Context, contextID int64) ([]*Blob, error)
	ListSourceBlobs(ctx context.Context, sourceID int64) ([]*Blob, error)
	LoadBlobs(ctx context.Context, ids []int64) ([]*Blob, error)

	ReplaceLinks(ctx context.Context, contextID int64, links []*Link) error
	ListLinks(ctx context.Context, contextID int64) ([]*Link, error)

	Count(ctx context.Context, contextID int64) (Counts, error)
	Close() error
}
