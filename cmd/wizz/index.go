package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewIndexCmd(rebuildUC *internal.RebuildIndexUseCase, statusUC *internal.IndexStatusUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the vector search indices",
		Long:  `Rebuild or inspect the blob and source indices of contexts.`,
	}

	cmd.PersistentFlags().StringP("context", "c", "", "Limit to this context (all contexts when empty)")
	cmd.AddCommand(
		newIndexRebuildCmd(rebuildUC),
		newIndexStatusCmd(statusUC),
	)

	return cmd
}

func newIndexRebuildCmd(uc *internal.RebuildIndexUseCase) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild indices from stored vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := uc.Execute(cmd.Context(), internal.IndexInput{
				Context: flagString(cmd, "context"),
				Scope:   flagString(cmd, "home"),
			})
			if err != nil {
				return fmt.Errorf("rebuild index: %w", err)
			}

			if flagBool(cmd, "json") {
				return writeJSON(cmd, names)
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %s\n", name)
			}
			return nil
		},
	}
}

func newIndexStatusCmd(uc *internal.IndexStatusUseCase) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := uc.Execute(cmd.Context(), internal.IndexInput{
				Context: flagString(cmd, "context"),
				Scope:   flagString(cmd, "home"),
			})
			if err != nil {
				return fmt.Errorf("index status: %w", err)
			}

			if flagBool(cmd, "json") {
				return writeJSON(cmd, statuses)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			for _, st := range statuses {
				if !st.Exists {
					fmt.Fprintf(tw, "%s\tnot built\n", st.Name)
					continue
				}
				fmt.Fprintf(tw, "%s\t%d items\tdim %d\t%s\n",
					st.Name, st.Items, st.Dimension, st.ModTime.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}
