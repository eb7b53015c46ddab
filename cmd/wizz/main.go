package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/4thel00z/wizz/internal"
	"github.com/charmbracelet/fang"
	"go.uber.org/zap"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tryExternalCommand(ctx) {
		return
	}

	a := newApp()
	defer a.close()

	rootCmd := NewRootCmd(version, a)
	if err := fang.Execute(ctx, rootCmd); err != nil {
		a.close()
		os.Exit(1)
	}
}

func tryExternalCommand(ctx context.Context) bool {
	if len(os.Args) < 2 {
		return false
	}

	cmd := os.Args[1]
	if cmd == "" || cmd[0] == '-' {
		return false
	}

	if _, err := findExternal(cmd); err != nil {
		return false
	}

	if err := executeExternal(ctx, cmd, os.Args[2:], version); err != nil {
		fmt.Fprintf(os.Stderr, "wizz %s: %v\n", cmd, err)
		os.Exit(1)
	}

	return true
}

type app struct {
	resolver *internal.ScopeResolver
	opts     []internal.WorkspaceOption
	debug    bool

	mu         sync.Mutex
	workspaces map[string]*internal.Workspace
}

func newApp(opts ...internal.WorkspaceOption) *app {
	return &app{
		resolver:   internal.NewScopeResolver(),
		opts:       opts,
		workspaces: make(map[string]*internal.Workspace),
	}
}

// workspace opens each scope once per process.
func (a *app) workspace(scope internal.Scope) (*internal.Workspace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ws, ok := a.workspaces[scope.WizzPath]; ok {
		return ws, nil
	}
	if !scope.Exists() {
		return nil, fmt.Errorf("no workspace at %s (run 'wizz init')", scope.WizzPath)
	}

	logger, err := a.logger(scope)
	if err != nil {
		return nil, err
	}

	opts := append([]internal.WorkspaceOption{internal.WithWorkspaceLogger(logger)}, a.opts...)
	ws, err := internal.OpenWorkspace(scope, opts...)
	if err != nil {
		return nil, err
	}
	a.workspaces[scope.WizzPath] = ws
	return ws, nil
}

func (a *app) logger(scope internal.Scope) (*zap.Logger, error) {
	cfg, err := internal.LoadConfig(scope)
	if err != nil {
		return nil, err
	}
	return internal.NewLogger(cfg.Log.Level, a.debug)
}

func (a *app) close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, ws := range a.workspaces {
		_ = ws.Close()
		delete(a.workspaces, key)
	}
}
