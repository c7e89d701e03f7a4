// Package mcpserver exposes the job queue as MCP tools over stdio, so an
// assistant session can hand work to the background worker.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mattjoyce/promptq/internal/queue"
)

// Platform is the channel platform recorded on jobs enqueued over MCP.
const Platform = "mcp"

// DefaultChannel is used when enqueue_job omits channel_id.
const DefaultChannel = "mcp"

// JobService is the queue surface the tools use.
type JobService interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.Job, error)
	Get(ctx context.Context, id int64) (*queue.Job, error)
	List(ctx context.Context, f queue.ListFilter) ([]*queue.Job, error)
	Cancel(ctx context.Context, id int64) (bool, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// New creates an MCP server with the queue tools registered.
func New(jobs JobService, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"promptq",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("promptq runs prompts against a coding assistant in the background, one at a time, and reports results per channel."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("enqueue_job",
			mcp.WithDescription("Queue a prompt for background execution. Returns the pending job."),
			mcp.WithString("prompt", mcp.Description("Prompt to run"), mcp.Required()),
			mcp.WithString("channel_id", mcp.Description("Channel to report the result to (default \"mcp\")")),
			mcp.WithString("provider", mcp.Description("Provider name; the configured default when omitted")),
			mcp.WithString("working_directory", mcp.Description("Directory the provider runs in")),
		),
		enqueueJob(jobs),
	)

	s.AddTool(
		mcp.NewTool("get_job",
			mcp.WithDescription("Fetch a job by id, including its result or error once finished."),
			mcp.WithNumber("id", mcp.Description("Job id"), mcp.Required()),
		),
		getJob(jobs),
	)

	s.AddTool(
		mcp.NewTool("list_jobs",
			mcp.WithDescription("List recent jobs, newest first."),
			mcp.WithString("status", mcp.Description("Filter by status: pending, running, completed or failed")),
			mcp.WithString("channel_id", mcp.Description("Filter by channel")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default 20)")),
		),
		listJobs(jobs),
	)

	s.AddTool(
		mcp.NewTool("cancel_job",
			mcp.WithDescription("Cancel a job that has not started yet."),
			mcp.WithNumber("id", mcp.Description("Job id"), mcp.Required()),
		),
		cancelJob(jobs),
	)

	s.AddTool(
		mcp.NewTool("queue_stats",
			mcp.WithDescription("Count jobs per status."),
		),
		queueStats(jobs),
	)

	return s
}

// Serve speaks MCP over in/out until ctx is cancelled or in is closed.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(s).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "mcp stdio server")
	}
	return nil
}

func enqueueJob(jobs JobService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		job, err := jobs.Enqueue(ctx, queue.EnqueueRequest{
			Prompt:           prompt,
			ProviderName:     req.GetString("provider", ""),
			WorkingDirectory: req.GetString("working_directory", ""),
			ChannelID:        req.GetString("channel_id", DefaultChannel),
			ChannelPlatform:  Platform,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to enqueue: %v", err)), nil
		}
		return mcpJSON(job)
	}
}

func getJob(jobs JobService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetInt("id", 0))
		if id <= 0 {
			return mcpError("id must be a positive integer"), nil
		}
		job, err := jobs.Get(ctx, id)
		if errors.Is(err, queue.ErrJobNotFound) {
			return mcpError(fmt.Sprintf("job %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get job: %v", err)), nil
		}
		return mcpJSON(job)
	}
}

func listJobs(jobs JobService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		list, err := jobs.List(ctx, queue.ListFilter{
			Status:    queue.Status(req.GetString("status", "")),
			ChannelID: req.GetString("channel_id", ""),
			Limit:     limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list jobs: %v", err)), nil
		}
		if list == nil {
			list = []*queue.Job{}
		}
		return mcpJSON(list)
	}
}

func cancelJob(jobs JobService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetInt("id", 0))
		if id <= 0 {
			return mcpError("id must be a positive integer"), nil
		}
		ok, err := jobs.Cancel(ctx, id)
		if errors.Is(err, queue.ErrJobNotFound) {
			return mcpError(fmt.Sprintf("job %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to cancel job: %v", err)), nil
		}
		if !ok {
			return mcpError(fmt.Sprintf("job %d is no longer pending", id)), nil
		}
		return mcpText(fmt.Sprintf("Cancelled job %d", id)), nil
	}
}

func queueStats(jobs JobService) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := jobs.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read stats: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
