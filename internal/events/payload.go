package events

import (
	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/queue"
)

// PayloadFor describes job in its current state.
func PayloadFor(job *queue.Job) JobPayload {
	p := JobPayload{
		JobID:        job.ID,
		Status:       string(job.Status),
		Provider:     job.ProviderName,
		ChannelID:    job.ChannelID,
		Platform:     job.ChannelPlatform,
		PromptDigest: log.PromptDigest(job.Prompt),
	}
	if job.ResultModel != nil {
		p.Model = *job.ResultModel
	}
	if job.Error != nil {
		p.Error = *job.Error
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		p.DurationMS = job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
	}
	return p
}
