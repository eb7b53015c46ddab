package main

import (
	"fmt"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string, a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wizz",
		Short: "Per-context knowledge base with semantic search",
		Long: `Load documents into named contexts, search them by similarity,
link related passages across documents and ask questions about them.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	addPersistentFlags(rootCmd)
	setHelpWithExternals(rootCmd)

	if a != nil {
		rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
			a.debug, _ = cmd.Flags().GetBool("debug")
		}
		addSubcommands(rootCmd, a)
	}

	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("home", "", "Workspace directory, or 'global' for ~/.wizz")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().Bool("debug", false, "Verbose logging to stderr")
}

func addSubcommands(root *cobra.Command, a *app) {
	r := a.resolver
	ws := a.workspace
	load := internal.NewLoadUseCase(r, ws)

	root.AddCommand(
		NewInitCmd(internal.NewInitUseCase(r)),
		NewLoadCmd(load),
		NewLinkCmd(internal.NewLinkUseCase(r, ws)),
		NewSearchCmd(internal.NewSearchUseCase(r, ws)),
		NewAskCmd(internal.NewAskUseCase(r, ws)),
		NewListCmd(internal.NewListUseCase(r, ws), internal.NewLinksUseCase(r, ws)),
		NewForgetCmd(internal.NewForgetUseCase(r, ws)),
		NewIndexCmd(internal.NewRebuildIndexUseCase(r, ws), internal.NewIndexStatusUseCase(r, ws)),
		NewWatchCmd(r, load),
		NewServeCmd(r, ws),
		NewProviderCmd(internal.NewProviderService(r)),
		NewHookCmd(internal.NewInstallHookUseCase(), internal.NewUninstallHookUseCase(), load),
	)
}

func setHelpWithExternals(cmd *cobra.Command) {
	defaultHelp := cmd.HelpFunc()

	cmd.SetHelpFunc(func(c *cobra.Command, args []string) {
		defaultHelp(c, args)
		printExternalCommands(c)
	})
}

func printExternalCommands(cmd *cobra.Command) {
	externals := listExternalCommands()
	if len(externals) == 0 {
		return
	}

	fmt.Fprintln(cmd.OutOrStdout(), "\nExternal commands (wizz-*):")
	for _, name := range externals {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
	}
}
