package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/4thel00z/wizz/internal"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func NewWatchCmd(resolver *internal.ScopeResolver, loadUC *internal.LoadUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and load changes",
		Long:  `Watch a directory and load new or changed documents into a context.`,
		Args:  cobra.ExactArgs(1),
		RunE:  makeWatchRunner(resolver, loadUC),
	}

	cmd.Flags().StringP("context", "c", "", "Target context")
	cmd.Flags().Duration("debounce", 500*time.Millisecond, "Debounce window for batching changes")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func makeWatchRunner(resolver *internal.ScopeResolver, loadUC *internal.LoadUseCase) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		scopeHint := flagString(cmd, "home")
		contextName := flagString(cmd, "context")
		debounce, _ := cmd.Flags().GetDuration("debounce")

		root, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolve %s: %w", args[0], err)
		}
		scope := resolver.Resolve(scopeHint)

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()

		if err := addWatchDirs(watcher, root); err != nil {
			return fmt.Errorf("add watch dirs: %w", err)
		}

		load := func() {
			report, err := loadUC.Execute(cmd.Context(), internal.LoadInput{
				Context: contextName, Path: root, Scope: scopeHint,
			})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "load error: %v\n", err)
				return
			}
			if report.Loaded > 0 {
				printIngestReport(cmd, report)
			}
		}

		load()
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes...\n", root)

		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}
		pending := false

		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if shouldIgnoreEvent(event, scope.WizzPath) {
					continue
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = addWatchDirs(watcher, event.Name)
					}
				}
				if !pending {
					timer.Reset(debounce)
					pending = true
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
			case <-timer.C:
				pending = false
				load()
			}
		}
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if info.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func shouldIgnoreEvent(event fsnotify.Event, wizzPath string) bool {
	if strings.HasPrefix(event.Name, wizzPath) {
		return true
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}

	return false
}
