package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/4thel00z/wizz/internal"
	"github.com/spf13/cobra"
)

func NewServeCmd(resolver *internal.ScopeResolver, workspace internal.WorkspaceFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search over HTTP",
		Long:  `Serve the workspace's contexts, links and similarity search as a JSON API.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := workspace(resolver.Resolve(flagString(cmd, "home")))
			if err != nil {
				return err
			}
			kb, err := ws.Knowledge(true, false)
			if err != nil {
				return err
			}

			addr := flagString(cmd, "addr")
			if addr == "" {
				addr = ws.Config.Server.Addr
			}

			srv := internal.NewServer(kb, ws.Config.Retrieval.K, ws.Logger().Named("http"))
			errc := make(chan error, 1)
			go func() { errc <- srv.Start(addr) }()
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return <-errc
		},
	}

	cmd.Flags().String("addr", "", "Listen address (config server.addr when empty)")
	return cmd
}
