package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectDocs(t *testing.T, src DocumentSource) map[string]Document {
	t.Helper()
	docs := make(map[string]Document)
	err := src.Documents(context.Background(), func(d Document) error {
		docs[d.Name] = d
		return nil
	})
	require.NoError(t, err)
	return docs
}

func TestDirSource(t *testing.T) {
	fs := memfs.New()
	files := map[string]string{
		"a.txt":            "alpha",
		"notes/b.md":       "beta",
		"notes/skip.log":   "not supported",
		".hidden/c.txt":    "hidden dir",
		"notes/.d.txt":     "hidden file",
		"drafts/e.txt":     "ignored dir",
		IgnoreFilename:     "drafts/\n",
		"notes/deep/f.txt": "deep",
	}
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0644))
	}

	src, err := NewDirSource(fs)
	require.NoError(t, err)

	docs := collectDocs(t, src)
	assert.Len(t, docs, 3)
	assert.Contains(t, docs, "a.txt")
	assert.Contains(t, docs, "notes/b.md")
	assert.Contains(t, docs, "notes/deep/f.txt")

	assert.Equal(t, "alpha", docs["a.txt"].Text)
	// sha1("alpha")
	assert.Equal(t, "be76331b95dfc399cd776d2fc68021e0db03cc4f", docs["a.txt"].Hash)
}

func TestOpenPathSource_SingleFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "one.txt")
	require.NoError(t, os.WriteFile(p, []byte("just one"), 0644))

	src, err := OpenPathSource(p)
	require.NoError(t, err)

	docs := collectDocs(t, src)
	require.Len(t, docs, 1)
	assert.Equal(t, "just one", docs["one.txt"].Text)
}

func TestOpenPathSource_Missing(t *testing.T) {
	_, err := OpenPathSource(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestGitSource_ReadsHeadTree(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	write := func(name, content string) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	write("readme.md", "committed")
	write("docs/guide.txt", "guide")
	write("private/secret.txt", "secret")
	write(IgnoreFilename, "private/\n")

	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "wizz", Email: "wizz@local", When: time.Now()},
	})
	require.NoError(t, err)

	// uncommitted changes are not visible
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("changed"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("new"), 0644))

	src, err := OpenGitSource(filepath.Join(dir, "docs"))
	require.NoError(t, err)

	docs := collectDocs(t, src)
	assert.Len(t, docs, 2)
	assert.Equal(t, "committed", docs["readme.md"].Text)
	assert.Equal(t, "guide", docs["docs/guide.txt"].Text)
}

func TestHiddenPath(t *testing.T) {
	assert.True(t, hiddenPath(".git/config"))
	assert.True(t, hiddenPath("a/.b/c.txt"))
	assert.False(t, hiddenPath("a/b/c.txt"))
}
