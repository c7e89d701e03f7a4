package main

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/promptq/internal/tui/watch"
)

func (c *cli) newWatchCmd() *cobra.Command {
	var apiURL, token string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of a running instance",
		Long: `Live terminal dashboard of queue health, recent jobs and the event stream,
read from the HTTP API of "promptq serve". The token needs jobs:ro and
events:ro.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" || token == "" {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				if apiURL == "" {
					apiURL = "http://" + cfg.API.Listen
				}
				if token == "" {
					token = cfg.API.Token
				}
			}
			if token == "" {
				token = os.Getenv("PROMPTQ_API_TOKEN")
			}
			if token == "" {
				return errors.WithHint(errors.New("no API token"), "Pass --token or set api.token")
			}
			if !strings.Contains(apiURL, "://") {
				apiURL = "http://" + apiURL
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return watch.Run(ctx, watch.NewClient(apiURL, token))
		},
	}
	cmd.Flags().StringVar(&apiURL, "url", "", "API base URL (default: from api.listen)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token (default: api.token or $PROMPTQ_API_TOKEN)")
	return cmd
}
