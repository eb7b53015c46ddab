package internal

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/ledongthuc/pdf"
)

// SupportedExtensions are the file types ingested by default.
var SupportedExtensions = []string{".txt", ".md", ".pdf"}

// Document is the extracted text of one file together with its content hash.
type Document struct {
	Name string
	Hash string
	Text string
}

// DocumentSource enumerates documents. Enumeration stops at the first error
// returned by yield.
type DocumentSource interface {
	Documents(ctx context.Context, yield func(Document) error) error
}

func supportedFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func hiddenPath(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

func contentHash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func newDocument(name string, data []byte) (Document, error) {
	text, err := extractText(name, data)
	if err != nil {
		return Document{}, err
	}
	return Document{Name: filepath.ToSlash(name), Hash: contentHash(data), Text: text}, nil
}

func extractText(name string, data []byte) (string, error) {
	if strings.EqualFold(path.Ext(name), ".pdf") {
		return extractPDF(data)
	}
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	return string(data), nil
}

func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i+1, err)
		}
		buf.WriteString(text)
		if i < numPages-1 {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), nil
}

// DirSource walks a directory tree, skipping hidden entries, unsupported
// extensions and anything matched by the root .wizzignore.
type DirSource struct {
	fs     billy.Filesystem
	ignore *IgnoreMatcher
}

func NewDirSource(fs billy.Filesystem) (*DirSource, error) {
	ignore, err := NewIgnoreMatcher(fs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", IgnoreFilename, err)
	}
	return &DirSource{fs: fs, ignore: ignore}, nil
}

// OpenPathSource returns a source for a directory, or for a single file when
// path names one.
func OpenPathSource(p string) (DocumentSource, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return &fileSource{path: p}, nil
	}
	return NewDirSource(osfs.New(p))
}

func (s *DirSource) Documents(ctx context.Context, yield func(Document) error) error {
	return s.walk(ctx, ".", yield)
}

func (s *DirSource) walk(ctx context.Context, dir string, yield func(Document) error) error {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		rel := s.fs.Join(dir, name)
		if s.ignore.Match(rel, e.IsDir()) {
			continue
		}

		if e.IsDir() {
			if err := s.walk(ctx, rel, yield); err != nil {
				return err
			}
			continue
		}
		if !e.Mode().IsRegular() || !supportedFile(name) {
			continue
		}

		data, err := util.ReadFile(s.fs, rel)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		doc, err := newDocument(rel, data)
		if err != nil {
			return fmt.Errorf("extract %s: %w", rel, err)
		}
		if err := yield(doc); err != nil {
			return err
		}
	}
	return nil
}

type fileSource struct {
	path string
}

func (s *fileSource) Documents(ctx context.Context, yield func(Document) error) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	doc, err := newDocument(filepath.Base(s.path), data)
	if err != nil {
		return fmt.Errorf("extract %s: %w", s.path, err)
	}
	return yield(doc)
}

// GitSource reads the files committed at HEAD of a repository, ignoring the
// working tree.
type GitSource struct {
	repo *git.Repository
}

func OpenGitSource(p string) (*GitSource, error) {
	repo, err := git.PlainOpenWithOptions(p, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return &GitSource{repo: repo}, nil
}

func (s *GitSource) Documents(ctx context.Context, yield func(Document) error) error {
	ref, err := s.repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return fmt.Errorf("get commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("get tree: %w", err)
	}

	ignore := newIgnoreMatcher(nil)
	if f, err := tree.File(IgnoreFilename); err == nil {
		contents, err := f.Contents()
		if err != nil {
			return fmt.Errorf("read %s: %w", IgnoreFilename, err)
		}
		patterns, err := parseIgnore(strings.NewReader(contents))
		if err != nil {
			return fmt.Errorf("parse %s: %w", IgnoreFilename, err)
		}
		ignore = newIgnoreMatcher(patterns)
	}

	return tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if hiddenPath(f.Name) || !supportedFile(f.Name) || ignore.MatchFile(f.Name) {
			return nil
		}

		r, err := f.Reader()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}

		doc, err := newDocument(f.Name, data)
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
		return yield(doc)
	})
}
