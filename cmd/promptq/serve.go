package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/promptq/internal/app"
	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/mcpserver"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// --- serve ---

func (c *cli) newServeCmd() *cobra.Command {
	var (
		withAPI bool
		listen  string
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Run the worker in the foreground",
		Long: `Run the worker in the foreground until interrupted. Only one instance may
serve a given database; a second one exits with an error.

The HTTP API is started when api.enabled is set or --api is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if withAPI {
				cfg.API.Enabled = true
			}
			if listen != "" {
				cfg.API.Enabled = true
				cfg.API.Listen = listen
			}
			if cfg.API.Enabled && cfg.API.Token == "" && len(cfg.API.Tokens) == 0 {
				return errors.WithHint(errors.New("api enabled but no tokens configured"),
					"Set api.token or api.tokens in the config, or PROMPTQ_API_TOKEN")
			}

			logger := log.WithComponent("main")
			logger.Info("promptq starting", "version", version, "config", cfg.SourcePath, "database", cfg.Database.Path)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			if err := a.Init(ctx); err != nil {
				return errors.CombineErrors(err, a.Close())
			}
			runErr := a.Run(ctx)
			logger.Info("promptq stopped")
			return errors.CombineErrors(runErr, a.Close())
		},
	}
	cmd.Flags().BoolVar(&withAPI, "api", false, "Start the HTTP API even if api.enabled is false")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP API listen address (implies --api)")
	return cmd
}

// --- mcp ---

func (c *cli) newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the job queue as MCP tools over stdio",
		Long: `Serve the job queue as Model Context Protocol tools over stdin/stdout.
Jobs enqueued here are picked up by the worker of "promptq serve".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.withJobs(ctx, func(a *app.App) error {
				s := mcpserver.New(a.Jobs, version)
				return mcpserver.Serve(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}
