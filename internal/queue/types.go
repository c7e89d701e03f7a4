package queue

import (
	"time"

	"github.com/cockroachdb/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CancelledError is the error text stored on a job cancelled while pending.
const CancelledError = "cancelled by user"

// LeaseExpiredError is stored on a running job reaped after its lease.
const LeaseExpiredError = "interrupted: lease expired (worker stopped while job was running)"

type Job struct {
	ID               int64      `json:"id"`
	Prompt           string     `json:"prompt"`
	ProviderName     string     `json:"provider_name"`
	WorkingDirectory *string    `json:"working_directory,omitempty"`
	Status           Status     `json:"status"`
	Result           *string    `json:"result"`
	ResultModel      *string    `json:"result_model"`
	Error            *string    `json:"error"`
	ChannelID        string     `json:"channel_id"`
	ChannelPlatform  string     `json:"channel_platform"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// WorkDir returns the working directory or "" when unset.
func (j *Job) WorkDir() string {
	if j.WorkingDirectory == nil {
		return ""
	}
	return *j.WorkingDirectory
}

type EnqueueRequest struct {
	Prompt           string
	ProviderName     string
	WorkingDirectory string
	ChannelID        string
	ChannelPlatform  string
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	Status    Status
	ChannelID string
	Limit     int
}

// Stats is a per-status count of jobs.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrNotRunning      = errors.New("job is not running")
	ErrNotTerminal     = errors.New("job has not finished")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidRequest  = errors.New("invalid enqueue request")
)
