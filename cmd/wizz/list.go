package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewListCmd(listUC *internal.ListUseCase, linksUC *internal.LinksUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List contexts, or the sources of one context",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input := internal.ListInput{
				Context: flagString(cmd, "context"),
				Scope:   flagString(cmd, "home"),
			}

			if flagBool(cmd, "links") {
				out, err := linksUC.Execute(cmd.Context(), input)
				if err != nil {
					return fmt.Errorf("list links: %w", err)
				}
				if flagBool(cmd, "json") {
					return writeJSON(cmd, out)
				}
				printLinks(cmd, out.Links)
				return nil
			}

			out, err := listUC.Execute(cmd.Context(), input)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			if flagBool(cmd, "json") {
				return writeJSON(cmd, out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			if input.Context != "" {
				for _, s := range out.Sources {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", s.ID, s.Name, s.CreatedAt.Format("2006-01-02 15:04"))
				}
				return nil
			}
			for _, c := range out.Contexts {
				fmt.Fprintf(tw, "%s\t%d sources\t%d blobs\t%d links\n", c.Name, c.Sources, c.Blobs, c.Links)
			}
			return nil
		},
	}

	cmd.Flags().StringP("context", "c", "", "List the sources of this context")
	cmd.Flags().Bool("links", false, "List the links of the context instead")
	return cmd
}

func printLinks(cmd *cobra.Command, links []*internal.Link) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer tw.Flush()
	for _, l := range links {
		fmt.Fprintf(tw, "blob %d\t-> source %d\t%.4f\t%.4f\n",
			l.BlobID, l.TargetSourceID, l.OriginDistance, l.DestinationDistance)
	}
}
