package model

import "time"

// GenerationRequest represents the request body for starting a generation
type GenerationRequest struct {
	Prompt       string `json:"prompt" validate:"required,min=1,max=3000"`
	ChannelID    string `json:"channelId" validate:"required,max=128"`
	Title        string `json:"title" validate:"omitempty,max=80"`
	Style        string `json:"style" validate:"omitempty,max=200"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model" validate:"omitempty,oneof=V3_5 V4 V4_5 V4_5PLUS V5"`
}

// SubmitResult is what a synchronous caller gets back from Submit. The
// stage may still be non-terminal when the short wait elapsed first.
type SubmitResult struct {
	JobID          string    `json:"jobId"`
	Stage          Stage     `json:"stage"`
	ExternalTaskID string    `json:"externalTaskId,omitempty"`
	ResultURL      string    `json:"resultUrl,omitempty"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewSubmitResult snapshots a job for the caller.
func NewSubmitResult(job *Job) *SubmitResult {
	return &SubmitResult{
		JobID:          job.ID,
		Stage:          job.Stage,
		ExternalTaskID: job.ExternalTaskID,
		ResultURL:      job.ResultURL,
		ErrorCode:      job.ErrorCode,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
	}
}

// JobStatusResponse represents GET /api/generations/:jobId
type JobStatusResponse struct {
	JobID          string     `json:"jobId"`
	ChannelID      string     `json:"channelId"`
	Stage          Stage      `json:"stage"`
	Terminal       bool       `json:"terminal"`
	ExternalTaskID string     `json:"externalTaskId,omitempty"`
	Title          string     `json:"title,omitempty"`
	ResultURL      string     `json:"resultUrl,omitempty"`
	ArtifactURL    string     `json:"artifactUrl,omitempty"`
	ErrorCode      string     `json:"errorCode,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// NewJobStatusResponse builds the polling view of a job.
func NewJobStatusResponse(job *Job) *JobStatusResponse {
	return &JobStatusResponse{
		JobID:          job.ID,
		ChannelID:      job.ChannelID,
		Stage:          job.Stage,
		Terminal:       job.IsTerminal(),
		ExternalTaskID: job.ExternalTaskID,
		Title:          job.Title,
		ResultURL:      job.ResultURL,
		ArtifactURL:    job.ArtifactURL,
		ErrorCode:      job.ErrorCode,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		CompletedAt:    job.CompletedAt,
	}
}

// CallbackAck is returned to the provider for every webhook call
type CallbackAck struct {
	Received   bool   `json:"received"`
	TaskID     string `json:"taskId,omitempty"`
	Recognized bool   `json:"recognized"`
	Applied    bool   `json:"applied"`
}

// CreditsResponse represents GET /api/provider/credits
type CreditsResponse struct {
	Credits int `json:"credits"`
}

// OrchestratorStats is reported by the health endpoint
type OrchestratorStats struct {
	QueuePending  int `json:"queuePending"`
	QueueRunning  int `json:"queueRunning"`
	ActivePollers int `json:"activePollers"`
}
