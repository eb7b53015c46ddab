package main

import (
	"fmt"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewInitCmd(uc *internal.InitUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a workspace",
		Long:  `Create a .wizz workspace with a default config in dir (the current directory by default).`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := internal.InitInput{Global: flagBool(cmd, "global")}
			if len(args) > 0 {
				input.Path = args[0]
			}

			out, err := uc.Execute(cmd.Context(), input)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}

			if !out.Created {
				fmt.Fprintf(cmd.OutOrStdout(), "Workspace already initialized at %s\n", out.Scope.WizzPath)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized workspace at %s\n", out.Scope.WizzPath)
			return nil
		},
	}

	cmd.Flags().Bool("global", false, "Initialize the global workspace (~/.wizz)")
	return cmd
}
