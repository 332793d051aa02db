package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/musicgen/internal/model"
)

const (
	TaskTypePublish = "generation:publish"
	QueuePublish    = "publish"
)

// PublishPayload is the asynq payload of a publish task
type PublishPayload struct {
	JobID     string `json:"jobId"`
	ChannelID string `json:"channelId"`
	ResultURL string `json:"resultUrl"`
	Title     string `json:"title,omitempty"`
}

// AsynqPostProcessor hands SUCCESS jobs to the publish worker. The asynq
// task id is derived from the job id, so a duplicate enqueue is dropped
// by the broker.
type AsynqPostProcessor struct {
	client *asynq.Client
}

func NewAsynqPostProcessor(client *asynq.Client) *AsynqPostProcessor {
	return &AsynqPostProcessor{client: client}
}

func (p *AsynqPostProcessor) Enqueue(ctx context.Context, job *model.Job) error {
	task, err := NewPublishTask(job)
	if err != nil {
		return err
	}

	_, err = p.client.EnqueueContext(ctx, task,
		asynq.Queue(QueuePublish),
		asynq.TaskID(PublishTaskID(job.ID)),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// PublishTaskID is the broker-level dedup key for a job.
func PublishTaskID(jobID string) string {
	return "publish:" + jobID
}

func NewPublishTask(job *model.Job) (*asynq.Task, error) {
	data, err := json.Marshal(PublishPayload{
		JobID:     job.ID,
		ChannelID: job.ChannelID,
		ResultURL: job.ResultURL,
		Title:     job.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TaskTypePublish, data), nil
}
