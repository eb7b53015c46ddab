package main

import (
	"fmt"
	"strings"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewSearchCmd(uc *internal.SearchUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a context by similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, _ := cmd.Flags().GetInt("number")

			out, err := uc.Execute(cmd.Context(), internal.SearchInput{
				Context: flagString(cmd, "context"),
				Query:   strings.Join(args, " "),
				K:       k,
				Scope:   flagString(cmd, "home"),
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if flagBool(cmd, "json") {
				return writeJSON(cmd, out)
			}
			printHits(cmd, out.Hits)
			return nil
		},
	}

	cmd.Flags().StringP("context", "c", "", "Context to search")
	cmd.Flags().IntP("number", "n", 0, "Maximum results (config retrieval.k when 0)")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func printHits(cmd *cobra.Command, hits []internal.SearchHit) {
	for i, h := range hits {
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "----")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %s@%d\n%s\n", h.Score, h.Source, h.Start, h.Text)
	}
}
