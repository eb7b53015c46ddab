package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewAskCmd(uc *internal.AskUseCase) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a context",
		Long: `Answer a question from the passages of a context. Without a question an
interactive chat reads one question per line from stdin; follow-up questions
see the previous turns.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, _ := cmd.Flags().GetInt("number")
			input := internal.AskInput{
				Context:  flagString(cmd, "context"),
				Provider: flagString(cmd, "provider"),
				K:        k,
				Scope:    flagString(cmd, "home"),
			}

			session, err := uc.Session(cmd.Context(), input)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if len(args) > 0 {
				return askOnce(cmd, session, strings.Join(args, " "))
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(cmd.ErrOrStderr(), "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				q := strings.TrimSpace(scanner.Text())
				if q == "" {
					continue
				}
				if err := askOnce(cmd, session, q); err != nil {
					return err
				}
			}
		},
	}

	cmd.Flags().StringP("context", "c", "", "Context to ask")
	cmd.Flags().StringP("provider", "p", "", "Chat provider (default from config)")
	cmd.Flags().IntP("number", "n", 0, "Passages to retrieve (config retrieval.k when 0)")
	cmd.Flags().Bool("stream", false, "Print the answer as it is generated")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func askOnce(cmd *cobra.Command, session *internal.Retriever, question string) error {
	if flagBool(cmd, "stream") && !flagBool(cmd, "json") {
		_, ch, err := session.AskStream(cmd.Context(), question)
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}
		for chunk := range ch {
			fmt.Fprint(cmd.OutOrStdout(), chunk)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	}

	ans, err := session.Ask(cmd.Context(), question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if flagBool(cmd, "json") {
		return writeJSON(cmd, ans)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
	return nil
}
