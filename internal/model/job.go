package model

import "time"

// Job is the durable record of one generation request
type Job struct {
	ID                 string     `json:"id"`
	ChannelID          string     `json:"channelId"`
	UserID             string     `json:"userId"`
	Prompt             string     `json:"prompt"`
	Title              string     `json:"title,omitempty"`
	Style              string     `json:"style,omitempty"`
	Instrumental       bool       `json:"instrumental"`
	ExternalTaskID     string     `json:"externalTaskId,omitempty"`
	Stage              Stage      `json:"stage"`
	ResultURL          string     `json:"resultUrl,omitempty"`
	ErrorCode          string     `json:"errorCode,omitempty"`
	ErrorMessage       string     `json:"errorMessage,omitempty"`
	PostProcessClaimed bool       `json:"postProcessClaimed"`
	ArtifactURL        string     `json:"artifactUrl,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// NewJob builds a job in the ACCEPTED stage.
func NewJob(jobID, channelID, userID string, req GenerationRequest, now time.Time) *Job {
	return &Job{
		ID:           jobID,
		ChannelID:    channelID,
		UserID:       userID,
		Prompt:       req.Prompt,
		Title:        req.Title,
		Style:        req.Style,
		Instrumental: req.Instrumental,
		Stage:        StageAccepted,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal reports whether the job reached SUCCESS, FAILED or TIMEOUT.
func (j *Job) IsTerminal() bool {
	return j.Stage.IsTerminal()
}

// Clone returns a copy that shares no pointers with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// JobUpdate is a partial write. Nil fields are left untouched.
type JobUpdate struct {
	Stage          *Stage
	ExternalTaskID *string
	ResultURL      *string
	Title          *string
	ErrorCode      *string
	ErrorMessage   *string
}

// Changes reports whether the update carries any field.
func (u JobUpdate) Changes() bool {
	return u.Stage != nil || u.ExternalTaskID != nil || u.ResultURL != nil ||
		u.Title != nil || u.ErrorCode != nil || u.ErrorMessage != nil
}

// StageUpdate moves the job to stage s.
func StageUpdate(s Stage) JobUpdate {
	return JobUpdate{Stage: &s}
}

// TaskCreatedUpdate records the provider task id together with TASK_CREATED.
func TaskCreatedUpdate(taskID string) JobUpdate {
	s := StageTaskCreated
	return JobUpdate{Stage: &s, ExternalTaskID: &taskID}
}

// SuccessUpdate finalizes the job with a result URL.
func SuccessUpdate(resultURL, title string) JobUpdate {
	s := StageSuccess
	u := JobUpdate{Stage: &s, ResultURL: &resultURL}
	if title != "" {
		u.Title = &title
	}
	return u
}

// FailureUpdate finalizes the job as FAILED or TIMEOUT.
func FailureUpdate(stage Stage, code, message string) JobUpdate {
	return JobUpdate{Stage: &stage, ErrorCode: &code, ErrorMessage: &message}
}

// Apply validates u against the current record and mutates j in place.
// Every store runs Apply inside its own atomic read-check-write, so the
// checks below are the single place the job invariants live.
func (j *Job) Apply(u JobUpdate, now time.Time) error {
	if j.Stage.IsTerminal() {
		return ErrAlreadyFinalized
	}
	if !u.Changes() {
		return nil
	}

	if u.ExternalTaskID != nil {
		if *u.ExternalTaskID == "" {
			return ErrInvalidTransition
		}
		if j.ExternalTaskID != "" && j.ExternalTaskID != *u.ExternalTaskID {
			return ErrTaskIDConflict
		}
	}

	next := j.Stage
	if u.Stage != nil {
		next = *u.Stage
		if !j.Stage.CanTransitionTo(next) {
			return ErrInvalidTransition
		}
	}

	taskID := j.ExternalTaskID
	if u.ExternalTaskID != nil {
		taskID = *u.ExternalTaskID
	}
	if (next == StageSuccess || next == StageTimeout || next == StagePending) && taskID == "" {
		return ErrInvalidTransition
	}

	if u.ResultURL != nil && (next != StageSuccess || *u.ResultURL == "") {
		return ErrInvalidTransition
	}
	if next == StageSuccess && u.ResultURL == nil {
		return ErrInvalidTransition
	}
	if (u.ErrorMessage != nil || u.ErrorCode != nil) && next != StageFailed && next != StageTimeout {
		return ErrInvalidTransition
	}

	if next == j.Stage && taskID == j.ExternalTaskID && u.Title == nil {
		return nil
	}

	j.Stage = next
	j.ExternalTaskID = taskID
	if u.ResultURL != nil {
		j.ResultURL = *u.ResultURL
	}
	if u.Title != nil {
		j.Title = *u.Title
	}
	if u.ErrorCode != nil {
		j.ErrorCode = *u.ErrorCode
	}
	if u.ErrorMessage != nil {
		j.ErrorMessage = *u.ErrorMessage
	}
	if next.IsTerminal() {
		t := now
		j.CompletedAt = &t
	}
	j.Version++
	j.UpdatedAt = now
	return nil
}

// Claim marks post-processing as started. It only succeeds once, and only
// for a job that finished with SUCCESS.
func (j *Job) Claim(now time.Time) bool {
	if j.Stage != StageSuccess || j.PostProcessClaimed {
		return false
	}
	j.PostProcessClaimed = true
	j.Version++
	j.UpdatedAt = now
	return true
}

// Release hands back a claim whose dispatch failed. It reports whether
// the job changed.
func (j *Job) Release(now time.Time) bool {
	if !j.PostProcessClaimed || j.ArtifactURL != "" {
		return false
	}
	j.PostProcessClaimed = false
	j.Version++
	j.UpdatedAt = now
	return true
}
