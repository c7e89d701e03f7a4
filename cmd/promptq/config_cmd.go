package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/promptq/internal/config"
	"github.com/mattjoyce/promptq/internal/doctor"
	"github.com/mattjoyce/promptq/internal/queue"
)

func (c *cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and inspect configuration",
	}
	cmd.AddCommand(c.newConfigCheckCmd(), c.newConfigHashCmd(), c.newConfigGetCmd())
	return cmd
}

func (c *cli) newConfigCheckCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate syntax, values and integrity hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if strict {
				if cfg.SourcePath == "" {
					return errors.New("--strict needs a config file")
				}
				if err := config.VerifyHash(cfg.SourcePath, true); err != nil {
					return err
				}
			}
			res := doctor.New(cfg).Validate()
			if c.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printCheck(cmd.OutOrStdout(), cfg, res)
			}
			if !res.Valid {
				return errors.Newf("configuration has %d error(s)", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Require the integrity sidecar to exist and match")
	return cmd
}

func printCheck(out io.Writer, cfg *config.Config, res *doctor.Result) {
	source := cfg.SourcePath
	if source == "" {
		source = "(defaults and environment)"
	}
	fmt.Fprintf(out, "Config:           %s\n", source)
	fmt.Fprintf(out, "Database:         %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "Default provider: %s\n", cfg.DefaultProvider)
	fmt.Fprintf(out, "Lease:            %s\n", cfg.LeaseDuration())
	for _, i := range res.Errors {
		fmt.Fprintf(out, "%s [%s] %s: %s\n", statusStyle(queue.StatusFailed).Render("ERROR"), i.Category, i.Field, i.Message)
	}
	for _, i := range res.Warnings {
		fmt.Fprintf(out, "%s  [%s] %s: %s\n", statusStyle(queue.StatusRunning).Render("WARN"), i.Category, i.Field, i.Message)
	}
	if res.Valid {
		fmt.Fprintln(out, "Configuration OK")
	}
}

func (c *cli) newConfigHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "hash",
		Aliases: []string{"lock"},
		Short:   "Record the config file's BLAKE3 hash in its sidecar",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.resolvePath()
			if path == "" {
				return errors.WithHint(errors.New("no config file found"), "Pass --config")
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return errors.Wrapf(err, "resolve %s", path)
			}
			hash, err := config.WriteHash(abs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", config.HashPath(abs), hash)
			return nil
		},
	}
}

func (c *cli) newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print a config value (secrets redacted)",
		Long: `Print a config value by dot path or entity address.

Examples:
  promptq config get worker.interval
  promptq config get notify
  promptq config get provider:claude`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			v, err := cfg.GetPath(args[0])
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), v)
			}
			data, err := yaml.Marshal(v)
			if err != nil {
				return errors.Wrap(err, "render value")
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
