package model

import "strings"

// Stage is the job's position in the generation state machine
type Stage string

const (
	StageAccepted    Stage = "ACCEPTED"
	StageRequestSent Stage = "REQUEST_SENT"
	StageTaskCreated Stage = "TASK_CREATED"
	StagePending     Stage = "PENDING"
	StageSuccess     Stage = "SUCCESS"
	StageFailed      Stage = "FAILED"
	StageTimeout     Stage = "TIMEOUT"
)

var stageRank = map[Stage]int{
	StageAccepted:    0,
	StageRequestSent: 1,
	StageTaskCreated: 2,
	StagePending:     3,
	StageSuccess:     4,
	StageFailed:      4,
	StageTimeout:     4,
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	_, ok := stageRank[s]
	return ok
}

// IsTerminal reports whether no further transitions are permitted.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageSuccess, StageFailed, StageTimeout:
		return true
	default:
		return false
	}
}

// Rank orders stages; terminal stages share the highest rank.
func (s Stage) Rank() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next respects the
// partial order. Repeating a non-terminal stage is allowed and treated
// as a no-op by Job.Apply.
func (s Stage) CanTransitionTo(next Stage) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	if next == s {
		return true
	}
	switch next {
	case StageSuccess, StageTimeout:
		// the provider must have accepted the task first
		return s.Rank() >= StageTaskCreated.Rank()
	case StageFailed:
		return true
	default:
		return next.Rank() > s.Rank()
	}
}

// ProviderStatus is the provider-side status of a generation task
type ProviderStatus string

const (
	ProviderStatusPending    ProviderStatus = "PENDING"
	ProviderStatusGenerating ProviderStatus = "GENERATING"
	ProviderStatusSuccess    ProviderStatus = "SUCCESS"
	ProviderStatusFailed     ProviderStatus = "FAILED"
)

// IsTerminal reports whether the provider finished the task either way.
func (s ProviderStatus) IsTerminal() bool {
	return s == ProviderStatusSuccess || s == ProviderStatusFailed
}

// NormalizeProviderStatus maps the many spellings the provider uses in
// status responses and callbacks onto ProviderStatus. Unknown values
// are reported as PENDING so they never finalize a job.
func NormalizeProviderStatus(raw string) ProviderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "COMPLETE", "COMPLETED", "SUCCEEDED", "DONE":
		return ProviderStatusSuccess
	case "FAILED", "FAILURE", "ERROR", "CREATE_TASK_FAILED", "GENERATE_AUDIO_FAILED",
		"CALLBACK_EXCEPTION", "SENSITIVE_WORD_ERROR":
		return ProviderStatusFailed
	case "GENERATING", "RUNNING", "PROCESSING", "TEXT", "TEXT_SUCCESS", "FIRST", "FIRST_SUCCESS", "STREAMING":
		return ProviderStatusGenerating
	default:
		return ProviderStatusPending
	}
}

// Error codes persisted on failed jobs
const (
	ErrorCodeProviderAuth       = "PROVIDER_AUTH"
	ErrorCodeNoCredits          = "NO_CREDITS"
	ErrorCodeRateLimited        = "RATE_LIMITED"
	ErrorCodeProviderDown       = "PROVIDER_UNAVAILABLE"
	ErrorCodeUnexpectedResponse = "UNEXPECTED_RESPONSE"
	ErrorCodeGenerationFailed   = "GENERATION_FAILED"
	ErrorCodePipelineTimeout    = "PIPELINE_TIMEOUT"
	ErrorCodeInternal           = "INTERNAL"
)
