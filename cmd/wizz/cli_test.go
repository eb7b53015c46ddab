package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/4thel00z/wizz/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spaceTokenizer maps every whitespace separated word to one token.
type spaceTokenizer struct {
	ids   map[string]int
	words []string
}

func (s *spaceTokenizer) Encode(text string) []int {
	var out []int
	for _, w := range strings.Fields(text) {
		id, ok := s.ids[w]
		if !ok {
			id = len(s.words)
			s.ids[w] = id
			s.words = append(s.words, w)
		}
		out = append(out, id)
	}
	return out
}

func (s *spaceTokenizer) Decode(tokens []int) string {
	ws := make([]string, len(tokens))
	for i, t := range tokens {
		ws[i] = s.words[t]
	}
	return strings.Join(ws, " ")
}

func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(internal.HomeEnv, "")

	run(t, newApp(), "init", dir)
	home := filepath.Join(dir, internal.DirName)

	scope := internal.Scope{Type: internal.ScopeExplicit, Path: dir, WizzPath: home}
	cfg, err := internal.LoadConfig(scope)
	require.NoError(t, err)
	cfg.Embeddings.Backend = "hash"
	cfg.Embeddings.Dimension = 8
	cfg.Chunking.Size = 10
	cfg.Chunking.Overlap = 2
	require.NoError(t, internal.SaveConfig(scope, cfg))
	return home
}

func run(t *testing.T, a *app, args ...string) string {
	t.Helper()
	out, err := runErr(a, args...)
	require.NoError(t, err, out)
	return out
}

func runErr(a *app, args ...string) (string, error) {
	cmd := NewRootCmd("test", a)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return dir
}

func sentence(prefix string, n int) string {
	var sb strings.Builder
	for i := range n {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(prefix)
		sb.WriteByte(byte('a' + i%26))
	}
	return sb.String()
}

func TestInitCmd(t *testing.T) {
	dir := t.TempDir()

	out := run(t, newApp(), "init", dir)
	assert.Contains(t, out, "Initialized workspace")
	assert.FileExists(t, filepath.Join(dir, internal.DirName, "config.yaml"))
	assert.DirExists(t, filepath.Join(dir, internal.DirName, "index"))

	out = run(t, newApp(), "init", dir)
	assert.Contains(t, out, "already initialized")
}

func TestCommandsRequireWorkspace(t *testing.T) {
	home := filepath.Join(t.TempDir(), internal.DirName)
	a := newApp()
	defer a.close()

	_, err := runErr(a, "--home", home, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wizz init")
}

func TestLoadSearchListForget(t *testing.T) {
	home := setupWorkspace(t)
	docs := writeFiles(t, map[string]string{
		"a.md":      sentence("alpha", 20),
		"sub/b.txt": sentence("beta", 14),
	})

	a := newApp(internal.WithTokenizer(&spaceTokenizer{ids: make(map[string]int)}))
	defer a.close()

	out := run(t, a, "--home", home, "load", "-c", "notes", docs)
	assert.Contains(t, out, "loaded 2")

	out = run(t, a, "--home", home, "load", "-c", "notes", docs)
	assert.Contains(t, out, "skipped 2")

	out = run(t, a, "--home", home, "--json", "search", "-c", "notes", "-n", "2", "betaa", "betab")
	var res internal.SearchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "betaa betab", res.Query)
	assert.NotEmpty(t, res.Hits)
	assert.LessOrEqual(t, len(res.Hits), 2)

	out = run(t, a, "--home", home, "list")
	assert.Contains(t, out, "notes")
	assert.Contains(t, out, "2 sources")

	out = run(t, a, "--home", home, "list", "-c", "notes")
	assert.Contains(t, out, "a.md")
	assert.Contains(t, out, "sub/b.txt")

	out = run(t, a, "--home", home, "link", "-c", "notes")
	assert.Contains(t, out, "2 sources")

	out = run(t, a, "--home", home, "index", "status")
	assert.Contains(t, out, "notes_blobs")
	assert.Contains(t, out, "notes_sources")

	out = run(t, a, "--home", home, "index", "rebuild", "-c", "notes")
	assert.Contains(t, out, "Rebuilt notes")

	out = run(t, a, "--home", home, "forget", "-c", "notes")
	assert.Contains(t, out, "Forgot context notes")

	_, err := runErr(a, "--home", home, "search", "-c", "notes", "x")
	assert.ErrorIs(t, err, internal.ErrContextNotFound)
}

func TestProviderCmds(t *testing.T) {
	home := setupWorkspace(t)
	a := newApp()

	run(t, a, "--home", home, "provider", "add", "openai", "--model", "gpt-4o-mini")
	run(t, a, "--home", home, "provider", "add", "claude", "--kind", "anthropic", "--model", "claude-sonnet")

	out := run(t, a, "--home", home, "provider", "list")
	assert.Contains(t, out, "* openai")
	assert.Contains(t, out, "  claude")

	run(t, a, "--home", home, "provider", "default", "claude")
	out = run(t, a, "--home", home, "provider", "list")
	assert.Contains(t, out, "* claude")

	run(t, a, "--home", home, "provider", "remove", "claude")
	out = run(t, a, "--home", home, "--json", "provider", "list")
	var listed struct {
		Providers []string `json:"providers"`
		Default   string   `json:"default"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Equal(t, []string{"openai"}, listed.Providers)
	assert.Empty(t, listed.Default)

	_, err := runErr(a, "--home", home, "provider", "add", "local", "--kind", "gguf")
	assert.ErrorIs(t, err, internal.ErrNoProvider)
}

func TestHookCmds(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0755))
	a := newApp()

	out := run(t, a, "hook", "install", repo, "-c", "repo")
	assert.Contains(t, out, filepath.Join(repo, ".git", "hooks", "post-commit"))

	out = run(t, a, "hook", "uninstall", repo)
	assert.Contains(t, out, "Removed")
	assert.NoFileExists(t, filepath.Join(repo, ".git", "hooks", "post-commit"))
}
