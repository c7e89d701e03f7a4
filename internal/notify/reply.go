package notify

import (
	"fmt"

	"github.com/mattjoyce/promptq/internal/queue"
)

// DefaultMaxReplyChars bounds the result text carried in a success reply.
const DefaultMaxReplyChars = 4000

const truncatedSuffix = "\n[truncated]"

// SuccessReply summarizes a completed job. maxChars <= 0 disables
// truncation.
func SuccessReply(job *queue.Job, maxChars int) Reply {
	text := ""
	if job.Result != nil {
		text = *job.Result
	}
	return Reply{JobID: job.ID, Kind: KindSuccess, Text: truncate(text, maxChars)}
}

// FailureReply summarizes a failed job.
func FailureReply(job *queue.Job, maxChars int) Reply {
	msg := "unknown error"
	if job.Error != nil && *job.Error != "" {
		msg = *job.Error
	}
	return Reply{JobID: job.ID, Kind: KindFailure, Text: truncate(fmt.Sprintf("Job #%d failed: %s", job.ID, msg), maxChars)}
}

// ReplyFor picks SuccessReply or FailureReply from the job's status.
func ReplyFor(job *queue.Job, maxChars int) Reply {
	if job.Status == queue.StatusCompleted {
		return SuccessReply(job, maxChars)
	}
	return FailureReply(job, maxChars)
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + truncatedSuffix
}
