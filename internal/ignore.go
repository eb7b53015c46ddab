package internal

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

const IgnoreFilename = ".wizzignore"

// IgnoreMatcher applies gitignore style patterns from a .wizzignore file.
// Later patterns override earlier ones, so "!keep.txt" re-includes a file.
type IgnoreMatcher struct {
	matcher gitignore.Matcher
	empty   bool
}

// NewIgnoreMatcher reads IgnoreFilename from the root of fs. A missing file
// ignores nothing.
func NewIgnoreMatcher(fs billy.Filesystem) (*IgnoreMatcher, error) {
	f, err := fs.Open(IgnoreFilename)
	if os.IsNotExist(err) {
		return &IgnoreMatcher{empty: true}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	patterns, err := parseIgnore(f)
	if err != nil {
		return nil, err
	}
	return newIgnoreMatcher(patterns), nil
}

func newIgnoreMatcher(patterns []gitignore.Pattern) *IgnoreMatcher {
	return &IgnoreMatcher{matcher: gitignore.NewMatcher(patterns), empty: len(patterns) == 0}
}

// Match reports whether the slash or OS separated relative path is ignored.
func (m *IgnoreMatcher) Match(relPath string, isDir bool) bool {
	if m.empty {
		return false
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	return m.matcher.Match(parts, isDir)
}

// MatchFile reports whether a file or any of its parent directories is
// ignored.
func (m *IgnoreMatcher) MatchFile(relPath string) bool {
	if m.empty {
		return false
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	for i := 1; i < len(parts); i++ {
		if m.matcher.Match(parts[:i], true) {
			return true
		}
	}
	return m.matcher.Match(parts, false)
}

func parseIgnore(r io.Reader) ([]gitignore.Pattern, error) {
	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}
