package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/promptq/internal/app"
	"github.com/mattjoyce/promptq/internal/queue"
)

// DefaultPlatform is the channel platform recorded for jobs enqueued from
// the command line.
const DefaultPlatform = "cli"

// withJobs opens the database without taking the instance lock, so these
// commands work next to a running "promptq serve".
func (c *cli) withJobs(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Open(ctx); err != nil {
		return err
	}
	return errors.CombineErrors(fn(a), a.Close())
}

func parseJobID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Newf("invalid job id %q", s)
	}
	return id, nil
}

// --- enqueue ---

func (c *cli) newEnqueueCmd() *cobra.Command {
	var req queue.EnqueueRequest
	cmd := &cobra.Command{
		Use:   "enqueue [prompt...]",
		Short: "Queue a prompt for the worker",
		Long: `Queue a prompt for the worker. With no arguments, or "-", the prompt is
read from stdin.

Examples:
  promptq enqueue "explain internal/queue"
  git diff | promptq enqueue --cwd . --channel review`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if len(args) == 0 || prompt == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "read prompt from stdin")
				}
				prompt = string(data)
			}
			req.Prompt = strings.TrimSpace(prompt)

			return c.withJobs(cmd.Context(), func(a *app.App) error {
				job, err := a.Jobs.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job #%d (provider %s)\n", job.ID, job.ProviderName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.ChannelID, "channel", DefaultPlatform, "Channel to notify on completion")
	cmd.Flags().StringVar(&req.ChannelPlatform, "platform", DefaultPlatform, "Platform of the channel")
	cmd.Flags().StringVarP(&req.ProviderName, "provider", "p", "", "Provider to run the prompt with (default: configured default)")
	cmd.Flags().StringVar(&req.WorkingDirectory, "cwd", "", "Working directory for the provider process")
	return cmd
}

// --- list ---

func (c *cli) newListCmd() *cobra.Command {
	var (
		status string
		filter queue.ListFilter
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				filter.Status = queue.Status(status)
				if !filter.Status.Valid() {
					return errors.WithHint(errors.Newf("unknown status %q", status),
						"Use one of: pending, running, completed, failed")
				}
			}
			return c.withJobs(cmd.Context(), func(a *app.App) error {
				list, err := a.Jobs.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJobTable(list))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only jobs in this status")
	cmd.Flags().StringVar(&filter.ChannelID, "channel", "", "Only jobs for this channel")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "Maximum number of jobs")
	return cmd
}

// --- get ---

func (c *cli) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <id>",
		Aliases: []string{"show"},
		Short:   "Show one job with its result or error",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return c.withJobs(cmd.Context(), func(a *app.App) error {
				job, err := a.Jobs.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), job)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJob(job))
				return nil
			})
		},
	}
}

// --- cancel ---

func (c *cli) newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return c.withJobs(cmd.Context(), func(a *app.App) error {
				ok, err := a.Jobs.Cancel(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !ok {
					job, err := a.Jobs.Get(cmd.Context(), id)
					if err != nil {
						return err
					}
					return errors.Newf("job #%d is %s; only pending jobs can be cancelled", id, job.Status)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job #%d\n", id)
				return nil
			})
		},
	}
}

// --- retry ---

func (c *cli) newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Queue a finished job again as a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return c.withJobs(cmd.Context(), func(a *app.App) error {
				job, err := a.Jobs.Retry(cmd.Context(), id)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried job #%d as #%d\n", id, job.ID)
				return nil
			})
		},
	}
}

// --- stats ---

func (c *cli) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withJobs(cmd.Context(), func(a *app.App) error {
				st, err := a.Jobs.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStats(st))
				return nil
			})
		},
	}
}

// --- clear ---

func (c *cli) newClearCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete completed and failed jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return errors.New("--older-than must not be negative")
			}
			return c.withJobs(cmd.Context(), func(a *app.App) error {
				n, err := a.Jobs.ClearFinished(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d finished job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only jobs finished longer ago than this (e.g. 24h)")
	return cmd
}
