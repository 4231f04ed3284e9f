package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/felixgeelhaar/pyportal/internal/mcp"
)

var mcpAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve exercise and run tools over MCP",
	Long: `Start an MCP server exposing the exercise catalogue and the execution
gateway to editor assistants. Uses stdio unless --addr is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a := newApp(cfg)
		defer a.Close()

		if err := a.openCatalogue(ctx); err != nil {
			return fmt.Errorf("open catalogue: %w", err)
		}
		if err := a.openGateway(ctx); err != nil {
			return fmt.Errorf("open gateway: %w", err)
		}

		server := mcpserver.NewServer(mcpserver.Config{
			Exercises: a.exercises,
			Executor:  a.gateway,
			Version:   Version,
		})

		if mcpAddr != "" {
			slog.Info("mcp server listening", "addr", mcpAddr)
			return server.ServeHTTP(ctx, mcpAddr)
		}
		return server.ServeStdio(ctx)
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpAddr, "addr", "", "serve over HTTP on this address instead of stdio")
}
