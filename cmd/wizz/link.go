package main

import (
	"fmt"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewLinkCmd(uc *internal.LinkUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link outlying passages to related documents",
		Long: `Find passages that stray from their own document and link each one to
the nearest other document of the context. Existing links are replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := uc.Execute(cmd.Context(), internal.LinkInput{
				Context: flagString(cmd, "context"),
				Scope:   flagString(cmd, "home"),
			})
			if err != nil {
				return fmt.Errorf("link: %w", err)
			}

			if flagBool(cmd, "json") {
				return writeJSON(cmd, report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sources, %d outliers, %d links\n",
				report.Context, report.Sources, report.Outliers, report.Links)
			return nil
		},
	}

	cmd.Flags().StringP("context", "c", "", "Target context")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}
