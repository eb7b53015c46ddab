package main

import (
	"fmt"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewProviderCmd(svc *internal.ProviderService) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage chat providers",
		Long:  `List, add, remove, and test the chat providers used by 'wizz ask'.`,
	}

	cmd.AddCommand(
		newProviderListCmd(svc),
		newProviderAddCmd(svc),
		newProviderRemoveCmd(svc),
		newProviderDefaultCmd(svc),
		newProviderTestCmd(svc),
	)

	return cmd
}

func newProviderListCmd(svc *internal.ProviderService) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, def, err := svc.List(flagString(cmd, "home"))
			if err != nil {
				return fmt.Errorf("list providers: %w", err)
			}

			if flagBool(cmd, "json") {
				return writeJSON(cmd, map[string]any{"providers": names, "default": def})
			}

			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No providers configured.")
				return nil
			}

			for _, name := range names {
				marker := " "
				if name == def {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func newProviderAddCmd(svc *internal.ProviderService) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := svc.Add(name, internal.ProviderConfig{
				Kind:    flagString(cmd, "kind"),
				APIKey:  flagString(cmd, "api-key"),
				BaseURL: flagString(cmd, "base-url"),
				Model:   flagString(cmd, "model"),
			}, flagString(cmd, "home")); err != nil {
				return fmt.Errorf("add provider: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added provider %s\n", name)
			return nil
		},
	}

	cmd.Flags().String("kind", "", "Backend: openai, anthropic or openrouter (defaults to the name)")
	cmd.Flags().String("api-key", "", "API key")
	cmd.Flags().String("base-url", "", "Base URL")
	cmd.Flags().String("model", "", "Model name")
	return cmd
}

func newProviderRemoveCmd(svc *internal.ProviderService) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.Remove(args[0], flagString(cmd, "home")); err != nil {
				return fmt.Errorf("remove provider: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed provider %s\n", args[0])
			return nil
		},
	}
}

func newProviderDefaultCmd(svc *internal.ProviderService) *cobra.Command {
	return &cobra.Command{
		Use:   "default <name>",
		Short: "Set default provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.SetDefault(args[0], flagString(cmd, "home")); err != nil {
				return fmt.Errorf("set default: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default provider set to %s\n", args[0])
			return nil
		},
	}
}

func newProviderTestCmd(svc *internal.ProviderService) *cobra.Command {
	return &cobra.Command{
		Use:   "test [name]",
		Short: "Test provider connectivity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			if err := svc.Test(cmd.Context(), name, flagString(cmd, "home")); err != nil {
				return fmt.Errorf("test provider: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Provider is working")
			return nil
		},
	}
}
