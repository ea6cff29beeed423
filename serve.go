package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpkarjala/confluence-go/internal/mcpserver"
)

// newServeCmd builds the serve command, which runs the MCP server over
// stdio until the client disconnects or the process is signaled.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcpserver.New(rt.api, rt.engine, version, rt.logger)

			return srv.Run(ctx)
		},
	}
}
