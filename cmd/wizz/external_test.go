package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/4thel00z/wizz/internal"
)

func TestFindExternal(t *testing.T) {
	tmp := t.TempDir()
	script := filepath.Join(tmp, "wizz-test")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho ok"), 0755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PATH", tmp+string(os.PathListSeparator)+os.Getenv("PATH"))

	path, err := findExternal("test")
	if err != nil {
		t.Fatalf("expected to find wizz-test, got error: %v", err)
	}
	if path != script {
		t.Errorf("expected %s, got %s", script, path)
	}
}

func TestFindExternalNotFound(t *testing.T) {
	if _, err := findExternal("nonexistent-command-12345"); err == nil {
		t.Fatal("expected error for nonexistent command")
	}
}

func TestListExternalCommands(t *testing.T) {
	tmp := t.TempDir()

	for _, s := range []string{"wizz-foo", "wizz-bar"} {
		if err := os.WriteFile(filepath.Join(tmp, s), []byte("#!/bin/sh"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmp, "wizz-noexec"), []byte("#!/bin/sh"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "other-script"), []byte("#!/bin/sh"), 0755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PATH", tmp)

	found := make(map[string]bool)
	for _, c := range listExternalCommands() {
		found[c] = true
	}

	for _, expected := range []string{"foo", "bar"} {
		if !found[expected] {
			t.Errorf("expected to find %q in external commands", expected)
		}
	}
	if found["noexec"] {
		t.Error("non-executable script should not be listed")
	}
	if found["other-script"] {
		t.Error("non-wizz script should not be listed")
	}
}

func TestBuildExternalEnv(t *testing.T) {
	home := filepath.Join(t.TempDir(), ".wizz")
	t.Setenv(internal.HomeEnv, home)

	env := buildExternalEnv(internal.NewScopeResolver(), "1.2.3")

	want := map[string]bool{
		"WIZZ_VERSION=1.2.3":                                false,
		"WIZZ_HOME=" + home:                                 false,
		"WIZZ_INDEX=" + filepath.Join(home, "index"):        false,
		"WIZZ_DATABASE=" + filepath.Join(home, "wizz.db"):   false,
		"WIZZ_CONFIG=" + filepath.Join(home, "config.yaml"): false,
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
		if strings.HasPrefix(kv, "WIZZ_SCOPE=") && kv != "WIZZ_SCOPE=explicit" {
			t.Errorf("unexpected %s", kv)
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Errorf("missing %s", kv)
		}
	}
}
