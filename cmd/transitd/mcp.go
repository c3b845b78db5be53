package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the assistant as MCP tools over stdio",
		Long: `Serve classify_utterance, process_turn and top_patterns as MCP tools over
stdio. Logs go to stderr so stdout carries only the protocol.

Example client configuration:

  {"command": "transitd", "args": ["mcp"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithSignals(cmd.Context(), serveMCP)
		},
	}
}

// serveMCP runs the stdio MCP server until ctx is cancelled or the client
// disconnects.
func serveMCP(ctx context.Context) error {
	rt, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer rt.shutdown()
	logger := rt.logger.Underlying()

	a, err := newApp(ctx, rt.cfg, logger, rt.metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer a.Close()

	srv, err := mcpserver.NewServer(&mcpserver.Config{
		Name:    "transitd",
		Version: version,
		Logger:  logger,
	}, a.engine)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("MCP server stopped", zap.String("version", version))
	return nil
}
