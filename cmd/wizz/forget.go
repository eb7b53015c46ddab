package main

import (
	"fmt"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewForgetCmd(uc *internal.ForgetUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Delete a context with its sources, links and indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name := flagString(cmd, "context")
			if err := uc.Execute(cmd.Context(), internal.ForgetInput{
				Context: name,
				Scope:   flagString(cmd, "home"),
			}); err != nil {
				return fmt.Errorf("forget: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot context %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringP("context", "c", "", "Context to delete")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}
