package api

import "github.com/mattjoyce/promptq/internal/queue"

// EnqueueRequest is the JSON body for POST /jobs.
type EnqueueRequest struct {
	Prompt           string `json:"prompt"`
	ChannelID        string `json:"channel_id"`
	Platform         string `json:"platform,omitempty"`
	Provider         string `json:"provider,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs  []*queue.Job `json:"jobs"`
	Count int          `json:"count"`
}

// CancelResponse is returned by POST /jobs/{id}/cancel.
type CancelResponse struct {
	JobID     int64        `json:"job_id"`
	Cancelled bool         `json:"cancelled"`
	Status    queue.Status `json:"status,omitempty"`
}

// ClearResponse is returned by DELETE /jobs/finished.
type ClearResponse struct {
	Deleted int64 `json:"deleted"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string      `json:"status"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	WorkerRunning bool        `json:"worker_running"`
	Queue         queue.Stats `json:"queue"`
}
