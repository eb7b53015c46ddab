package internal

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrContextNotFound   = errors.New("context not found")
	ErrIndexNotFound     = errors.New("index not found")
	ErrItemNotFound      = errors.New("item not found")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrDuplicateItemID   = errors.New("duplicate item id")
	ErrItemIDRange       = errors.New("item id out of range")
	ErrMalformedEncoding = errors.New("malformed vector encoding")
	ErrWriterClosed      = errors.New("index writer closed")
	ErrReaderClosed      = errors.New("index reader closed")
	ErrInvalidIndexName  = errors.New("invalid index name")
	ErrRegistryClosed    = errors.New("index registry closed")
	ErrInvalidChunking   = errors.New("invalid chunking parameters")
	ErrNoChunks          = errors.New("no chunk vectors")
	ErrNoProvider        = errors.New("provider not available")
	ErrNoEmbedder        = errors.New("embedder not available")
)
