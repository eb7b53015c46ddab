package internal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used by gpt-4 class models.
const DefaultEncoding = "cl100k_base"

var bpeLoaderMu sync.Mutex

type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the named encoding. Vocabulary files are fetched
// once into <cacheDir>/tokenizers and read from there afterwards.
func NewTiktokenTokenizer(encoding, cacheDir string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	bpeLoaderMu.Lock()
	defer bpeLoaderMu.Unlock()

	tiktoken.SetBpeLoader(&cachedBPELoader{
		downloader: NewDownloader(filepath.Join(cacheDir, "tokenizers"), ""),
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

type cachedBPELoader struct {
	downloader *Downloader
}

func (l *cachedBPELoader) LoadTiktokenBpe(url string) (map[string]int, error) {
	p, err := l.downloader.EnsureFile(context.Background(), url, "", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch vocabulary: %w", err)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return parseBPERanks(data)
}

// parseBPERanks reads "<base64 token> <rank>" lines.
func parseBPERanks(data []byte) (map[string]int, error) {
	ranks := make(map[string]int)

	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		fields := bytes.Fields(sc.Bytes())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("parse vocabulary line %d: expected 2 fields, got %d", line, len(fields))
		}

		token, err := base64.StdEncoding.DecodeString(string(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("parse vocabulary line %d: %w", line, err)
		}
		rank, err := strconv.Atoi(string(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("parse vocabulary line %d: %w", line, err)
		}
		ranks[string(token)] = rank
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocabulary: %w", err)
	}

	return ranks, nil
}
