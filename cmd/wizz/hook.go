package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewHookCmd(
	installUC *internal.InstallHookUseCase,
	uninstallUC *internal.UninstallHookUseCase,
	loadUC *internal.LoadUseCase,
) *cobra.Command {
	hookCmd := &cobra.Command{
		Use:   "hook",
		Short: "Reload a git repository into a context after each commit",
	}

	hookCmd.AddCommand(
		newHookInstallCmd(installUC),
		newHookUninstallCmd(uninstallUC),
		newHookRunCmd(loadUC),
	)
	return hookCmd
}

func hookDir(args []string) (string, error) {
	if len(args) > 0 {
		return filepath.Abs(args[0])
	}
	return os.Getwd()
}

func newHookInstallCmd(uc *internal.InstallHookUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install [repo]",
		Short: "Install the post-commit hook",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := hookDir(args)
			if err != nil {
				return err
			}
			out, err := uc.Execute(cmd.Context(), internal.HookInput{Dir: dir, Context: flagString(cmd, "context")})
			if err != nil {
				return fmt.Errorf("install hook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s\n", out.Path)
			return nil
		},
	}
	cmd.Flags().StringP("context", "c", "", "Context the repository is loaded into")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func newHookUninstallCmd(uc *internal.UninstallHookUseCase) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall [repo]",
		Short: "Remove the post-commit hook",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := hookDir(args)
			if err != nil {
				return err
			}
			out, err := uc.Execute(cmd.Context(), internal.HookInput{Dir: dir})
			if err != nil {
				return fmt.Errorf("uninstall hook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", out.Path)
			return nil
		},
	}
}

func newHookRunCmd(uc *internal.LoadUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "run <hook-type>",
		Short:  "Execute a hook handler",
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != internal.PostCommitHook {
				return fmt.Errorf("unsupported hook type: %s", args[0])
			}

			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			gitDir, err := internal.FindGitDir(wd)
			if err != nil {
				return err
			}

			report, err := uc.Execute(cmd.Context(), internal.LoadInput{
				Context: flagString(cmd, "context"),
				Path:    filepath.Dir(gitDir),
				Git:     true,
				Scope:   flagString(cmd, "home"),
			})
			// a failing hook must not fail the commit
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "wizz hook: %v\n", err)
				return nil
			}
			printIngestReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().StringP("context", "c", "", "Target context")
	return cmd
}
