package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScopePaths(t *testing.T) {
	scope := Scope{WizzPath: "/home/user/.wizz"}

	cases := map[string]string{
		scope.IndexPath():    "/home/user/.wizz/index",
		scope.DatabasePath(): "/home/user/.wizz/wizz.db",
		scope.ConfigPath():   "/home/user/.wizz/config.yaml",
		scope.CachePath():    "/home/user/.wizz/cache",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

func TestScopeResolverGlobal(t *testing.T) {
	resolver := &ScopeResolver{homeDir: "/home/user"}
	scope := resolver.Global()

	if scope.Type != ScopeGlobal {
		t.Errorf("expected ScopeGlobal, got %q", scope.Type)
	}
	if scope.WizzPath != "/home/user/.wizz" {
		t.Errorf("expected WizzPath /home/user/.wizz, got %q", scope.WizzPath)
	}
}

func TestScopeResolverProjectInParent(t *testing.T) {
	tmp := t.TempDir()
	if err := os.Mkdir(filepath.Join(tmp, DirName), 0755); err != nil {
		t.Fatal(err)
	}
	subDir := filepath.Join(tmp, "sub", "dir")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	resolver := &ScopeResolver{homeDir: "/nonexistent-home"}
	scope, found := resolver.findProjectScope(subDir)
	if !found {
		t.Fatal("expected .wizz in parent to be found")
	}
	if scope.Type != ScopeProject {
		t.Errorf("expected ScopeProject, got %q", scope.Type)
	}
	if scope.Path != tmp {
		t.Errorf("expected Path %q, got %q", tmp, scope.Path)
	}
	if !scope.Exists() {
		t.Error("expected scope to exist")
	}
}

func TestScopeResolverSkipsHomeWorkspace(t *testing.T) {
	home := t.TempDir()
	if err := os.Mkdir(filepath.Join(home, DirName), 0755); err != nil {
		t.Fatal(err)
	}
	project := filepath.Join(home, "code")
	if err := os.Mkdir(project, 0755); err != nil {
		t.Fatal(err)
	}

	resolver := &ScopeResolver{homeDir: home}
	if _, found := resolver.findProjectScope(project); found {
		t.Error("home workspace must not be treated as a project workspace")
	}
}

func TestScopeResolverResolve(t *testing.T) {
	tmp := t.TempDir()

	resolver := &ScopeResolver{homeDir: "/home/user", envHome: filepath.Join(tmp, "env")}

	if s := resolver.Resolve("global"); s.Type != ScopeGlobal {
		t.Errorf("expected ScopeGlobal, got %q", s.Type)
	}

	explicit := filepath.Join(tmp, "explicit")
	if s := resolver.Resolve(explicit); s.Type != ScopeExplicit || s.WizzPath != explicit {
		t.Errorf("expected explicit scope at %q, got %+v", explicit, s)
	}

	if s := resolver.Resolve(""); s.WizzPath != filepath.Join(tmp, "env") {
		t.Errorf("expected WIZZ_HOME scope, got %+v", s)
	}
}

func TestScopeResolverResolveFallbackToGlobal(t *testing.T) {
	tmp := t.TempDir()
	orig, _ := os.Getwd()
	defer func() { _ = os.Chdir(orig) }()
	_ = os.Chdir(tmp)

	resolver := &ScopeResolver{homeDir: "/nonexistent-home"}
	if s := resolver.Resolve(""); s.Type != ScopeGlobal {
		t.Errorf("expected fallback to ScopeGlobal, got %q", s.Type)
	}
}

func TestScopeResolverEnvVars(t *testing.T) {
	resolver := &ScopeResolver{}
	scope := Scope{Type: ScopeProject, Path: "/project", WizzPath: "/project/.wizz"}

	env := resolver.EnvVars(scope, "1.0.0")

	want := map[string]string{
		"WIZZ_SCOPE":    "project",
		"WIZZ_HOME":     "/project/.wizz",
		"WIZZ_ROOT":     "/project",
		"WIZZ_CONFIG":   "/project/.wizz/config.yaml",
		"WIZZ_DATABASE": "/project/.wizz/wizz.db",
		"WIZZ_VERSION":  "1.0.0",
	}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("expected %s=%q, got %q", k, v, env[k])
		}
	}
}
