package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/promptq/internal/config"
	"github.com/mattjoyce/promptq/internal/log"
)

// Overridden at build time with -ldflags "-X main.version=...".
var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries the global flags and the lazily loaded config shared by every
// subcommand.
type cli struct {
	configPath string
	jsonOut    bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "promptq",
		Short: "Persistent background queue for AI assistant prompts",
		Long: `promptq - persistent background queue for AI coding-assistant prompts.

Jobs are stored in SQLite and executed one at a time by a single worker
through a configured provider CLI. Results are delivered to the channel that
submitted the job.

Examples:
  promptq serve                       # Run the worker (and API if enabled)
  promptq enqueue "summarise README"  # Queue a prompt
  promptq list --status pending       # Inspect the queue
  promptq watch                       # Live dashboard over the HTTP API`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to config file (default: discovered)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "Output JSON")

	root.AddCommand(
		c.newServeCmd(),
		c.newMCPCmd(),
		c.newWatchCmd(),
		c.newEnqueueCmd(),
		c.newListCmd(),
		c.newGetCmd(),
		c.newCancelCmd(),
		c.newRetryCmd(),
		c.newStatsCmd(),
		c.newClearCmd(),
		c.newConfigCmd(),
		c.newVersionCmd(),
	)
	return root
}

// resolvePath returns the --config value or the discovered config file.
func (c *cli) resolvePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return config.DiscoverConfigPath()
}

// loadConfig loads and validates the config once. Logs go to stderr so
// stdout stays clean for command output and the MCP stdio transport.
func (c *cli) loadConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.resolvePath())
	if err != nil {
		return nil, err
	}
	log.SetupWithWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)
	c.cfg = cfg
	return cfg, nil
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := errors.FlattenHints(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- version ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func (c *cli) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentVersionInfo()
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "promptq %s\n", info.Version)
			fmt.Fprintf(out, "commit: %s\n", info.Commit)
			fmt.Fprintf(out, "built_at: %s\n", info.BuildTime)
			fmt.Fprintf(out, "go: %s\n", info.GoVersion)
			return nil
		},
	}
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
		GoVersion: runtime.Version(),
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw, true
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}
