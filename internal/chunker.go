package internal

import (
	"fmt"
	"iter"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize = 100
	// DefaultStripChars are trimmed from both ends of every finished chunk.
	DefaultStripChars = " \t\r\n\f\v\"'`*_-#|~=•·"
)

// DefaultChunkOverlap is DefaultChunkSize / phi^6, truncated.
var DefaultChunkOverlap = int(DefaultChunkSize / math.Pow(math.Phi, 6))

// whitespaceRun matches what unicode.IsSpace accepts; RE2 \s alone is ASCII.
var whitespaceRun = regexp.MustCompile(`[\s\v\p{Z}\x{85}]+`)

// Tokenizer converts text to token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Chunk is one token-bounded slice of a document. Start is the number of
// characters consumed by the chunks yielded before it.
type Chunk struct {
	Start int
	Text  string
}

type Chunker struct {
	tok     Tokenizer
	size    int
	overlap int
	strip   string
}

type ChunkerOption func(*Chunker)

func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) { c.size = size }
}

func WithChunkOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) { c.overlap = overlap }
}

func WithStripChars(chars string) ChunkerOption {
	return func(c *Chunker) { c.strip = chars }
}

func NewChunker(tok Tokenizer, opts ...ChunkerOption) (*Chunker, error) {
	c := &Chunker{
		tok:     tok,
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
		strip:   DefaultStripChars,
	}
	for _, o := range opts {
		o(c)
	}

	if c.size <= 0 || c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("%w: size %d, overlap %d", ErrInvalidChunking, c.size, c.overlap)
	}
	return c, nil
}

// Split chunks a single text.
func (c *Chunker) Split(text string) *Batcher {
	return &Batcher{c: c, parts: []string{text}, sep: ""}
}

// SplitAll chunks several texts as one stream, joined by single spaces.
func (c *Chunker) SplitAll(parts []string) *Batcher {
	return &Batcher{c: c, parts: parts, sep: " "}
}

func (c *Chunker) clean(text string) string {
	return strings.Trim(text, c.strip)
}

// Batcher yields the chunks of one input. It is consumed once and cannot be
// restarted.
type Batcher struct {
	c       *Chunker
	parts   []string
	sep     string
	next    int
	tokens  []int
	start   int
	flushed bool
}

// Next returns the next chunk, or false once the input is exhausted.
func (b *Batcher) Next() (Chunk, bool) {
	for {
		if len(b.tokens) >= b.c.size {
			if chunk, ok := b.emit(); ok {
				return chunk, true
			}
			continue
		}

		if b.next < len(b.parts) {
			b.appendPart(b.parts[b.next])
			b.next++
			continue
		}

		if b.flushed {
			return Chunk{}, false
		}
		b.flushed = true

		if len(b.tokens) == 0 {
			return Chunk{}, false
		}
		text := b.c.clean(b.c.tok.Decode(b.tokens))
		b.tokens = nil
		if text == "" {
			return Chunk{}, false
		}
		return Chunk{Start: b.start, Text: text}, true
	}
}

// All adapts Next to a range-over-func sequence.
func (b *Batcher) All() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for {
			chunk, ok := b.Next()
			if !ok || !yield(chunk) {
				return
			}
		}
	}
}

func (b *Batcher) appendPart(part string) {
	unit := whitespaceRun.ReplaceAllString(part, " ")
	if unit == "" {
		return
	}

	text := unit
	if len(b.tokens) > 0 {
		text = b.c.tok.Decode(b.tokens) + b.sep + unit
	}
	b.tokens = b.c.tok.Encode(text)
}

// emit cuts the first size tokens off the buffer and keeps everything from
// size-overlap onwards. Chunks that clean down to nothing are dropped but
// still advance Start.
func (b *Batcher) emit() (Chunk, bool) {
	raw := b.c.tok.Decode(b.tokens[:b.c.size])

	rest := make([]int, len(b.tokens)-(b.c.size-b.c.overlap))
	copy(rest, b.tokens[b.c.size-b.c.overlap:])
	b.tokens = rest

	chunk := Chunk{Start: b.start, Text: b.c.clean(raw)}
	b.start += utf8.RuneCountInString(raw)

	return chunk, chunk.Text != ""
}
