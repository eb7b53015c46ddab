package main

import (
	"fmt"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewLoadCmd(uc *internal.LoadUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <path>",
		Short: "Load documents into a context",
		Long: `Load .txt, .md and .pdf files from a file or directory into a context.
Files already loaded are skipped by content hash. With --git the HEAD tree of
the repository at path is loaded instead of the working tree.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := uc.Execute(cmd.Context(), internal.LoadInput{
				Context: flagString(cmd, "context"),
				Path:    args[0],
				Git:     flagBool(cmd, "git"),
				Scope:   flagString(cmd, "home"),
			})
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}

			if flagBool(cmd, "json") {
				return writeJSON(cmd, report)
			}
			printIngestReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().StringP("context", "c", "", "Target context")
	cmd.Flags().Bool("git", false, "Load the HEAD tree of a git repository")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func printIngestReport(cmd *cobra.Command, r *internal.IngestReport) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: loaded %d, skipped %d, %d blobs\n",
		r.Context, r.Loaded, r.Skipped, r.Blobs)
}
