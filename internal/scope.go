package internal

import (
	"os"
	"path/filepath"
)

// DirName is the workspace directory looked up from the working directory
// upwards and, failing that, in the home directory.
const DirName = ".wizz"

// HomeEnv overrides workspace discovery when set.
const HomeEnv = "WIZZ_HOME"

type ScopeType string

const (
	ScopeGlobal   ScopeType = "global"
	ScopeProject  ScopeType = "project"
	ScopeExplicit ScopeType = "explicit"
)

type Scope struct {
	Type     ScopeType
	Path     string // directory holding the workspace
	WizzPath string // workspace directory
}

func (s Scope) IndexPath() string {
	return filepath.Join(s.WizzPath, "index")
}

func (s Scope) DatabasePath() string {
	return filepath.Join(s.WizzPath, "wizz.db")
}

func (s Scope) ConfigPath() string {
	return filepath.Join(s.WizzPath, "config.yaml")
}

func (s Scope) CachePath() string {
	return filepath.Join(s.WizzPath, "cache")
}

func (s Scope) Exists() bool {
	info, err := os.Stat(s.WizzPath)
	return err == nil && info.IsDir()
}

type ScopeResolver struct {
	homeDir string
	envHome string
}

func NewScopeResolver() *ScopeResolver {
	home, _ := os.UserHomeDir()
	return &ScopeResolver{homeDir: home, envHome: os.Getenv(HomeEnv)}
}

func (r *ScopeResolver) Global() Scope {
	return Scope{
		Type:     ScopeGlobal,
		Path:     r.homeDir,
		WizzPath: filepath.Join(r.homeDir, DirName),
	}
}

func (r *ScopeResolver) Project() (Scope, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return Scope{}, false
	}
	return r.findProjectScope(cwd)
}

func (r *ScopeResolver) findProjectScope(dir string) (Scope, bool) {
	for {
		wizzPath := filepath.Join(dir, DirName)
		if dir != r.homeDir {
			info, err := os.Stat(wizzPath)
			if err == nil && info.IsDir() {
				return Scope{Type: ScopeProject, Path: dir, WizzPath: wizzPath}, true
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Scope{}, false
		}
		dir = parent
	}
}

func explicitScope(path string) Scope {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Scope{Type: ScopeExplicit, Path: filepath.Dir(abs), WizzPath: abs}
}

// Resolve picks the workspace: "global" forces the home workspace, any other
// non-empty value is used as the workspace directory itself. Without an
// explicit choice WIZZ_HOME wins, then the nearest project workspace.
func (r *ScopeResolver) Resolve(explicit string) Scope {
	switch explicit {
	case "":
	case "global":
		return r.Global()
	default:
		return explicitScope(explicit)
	}

	if r.envHome != "" {
		return explicitScope(r.envHome)
	}
	if scope, ok := r.Project(); ok {
		return scope
	}
	return r.Global()
}

// EnvVars is the environment handed to external wizz-* commands.
func (r *ScopeResolver) EnvVars(scope Scope, version string) map[string]string {
	bin, _ := os.Executable()
	return map[string]string{
		"WIZZ_SCOPE":    string(scope.Type),
		"WIZZ_HOME":     scope.WizzPath,
		"WIZZ_ROOT":     scope.Path,
		"WIZZ_CONFIG":   scope.ConfigPath(),
		"WIZZ_DATABASE": scope.DatabasePath(),
		"WIZZ_INDEX":    scope.IndexPath(),
		"WIZZ_VERSION":  version,
		"WIZZ_BIN":      bin,
	}
}
