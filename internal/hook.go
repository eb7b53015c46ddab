package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const HookMarker = "# wizz: managed post-commit hook"

// PostCommitHook is the only hook type wizz installs.
const PostCommitHook = "post-commit"

var ErrHookExists = errors.New("unmanaged hook already present")

// HookScript returns the shell shim that reloads the repository into
// contextName after each commit.
func HookScript(hookType, contextName string) string {
	return fmt.Sprintf("#!/bin/sh\n%s\nexec wizz hook run %s --context %s \"$@\"\n",
		HookMarker, hookType, shellQuote(contextName))
}

// IsManagedHook checks if the given script content was written by wizz.
func IsManagedHook(content string) bool {
	return strings.Contains(content, HookMarker)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// FindGitDir walks up from dir looking for a .git directory.
func FindGitDir(dir string) (string, error) {
	for {
		gitDir := filepath.Join(dir, ".git")
		info, err := os.Stat(gitDir)
		if err == nil && info.IsDir() {
			return gitDir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (no .git found)")
		}
		dir = parent
	}
}

type HookInput struct {
	Dir     string
	Context string
}

type HookOutput struct {
	Path      string
	Installed bool
}

type InstallHookUseCase struct{}

func NewInstallHookUseCase() *InstallHookUseCase {
	return &InstallHookUseCase{}
}

// Execute writes the post-commit hook of the repository containing Dir.
// A managed hook is replaced; any other hook is left alone.
func (uc *InstallHookUseCase) Execute(ctx context.Context, input HookInput) (*HookOutput, error) {
	if err := requireContext(input.Context); err != nil {
		return nil, err
	}
	gitDir, err := FindGitDir(input.Dir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(gitDir, "hooks", PostCommitHook)
	if existing, err := os.ReadFile(path); err == nil && !IsManagedHook(string(existing)) {
		return nil, fmt.Errorf("%w: %s", ErrHookExists, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create hooks dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(HookScript(PostCommitHook, input.Context)), 0755); err != nil {
		return nil, fmt.Errorf("write hook: %w", err)
	}
	return &HookOutput{Path: path, Installed: true}, nil
}

type UninstallHookUseCase struct{}

func NewUninstallHookUseCase() *UninstallHookUseCase {
	return &UninstallHookUseCase{}
}

// Execute removes the post-commit hook if wizz wrote it.
func (uc *UninstallHookUseCase) Execute(ctx context.Context, input HookInput) (*HookOutput, error) {
	gitDir, err := FindGitDir(input.Dir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(gitDir, "hooks", PostCommitHook)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &HookOutput{Path: path}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hook: %w", err)
	}
	if !IsManagedHook(string(data)) {
		return nil, fmt.Errorf("%w: %s", ErrHookExists, path)
	}

	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("remove hook: %w", err)
	}
	return &HookOutput{Path: path}, nil
}
