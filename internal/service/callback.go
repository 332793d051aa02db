package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/makeasinger/musicgen/internal/callback"
	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/internal/model"
)

// HandleCallback applies a provider webhook. It never fails: lookup
// misses, malformed payloads and store errors are logged and the
// provider still gets an acknowledgement.
func (s *GenerationService) HandleCallback(ctx context.Context, body []byte) (ack model.CallbackAck) {
	ctx, span := s.tracer.Start(ctx, "generation.callback")
	defer span.End()

	ack = model.CallbackAck{Received: true}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Webhook] panic while handling callback: %v", r)
			ack.Applied = false
		}
	}()

	ev, err := callback.Extract(body)
	ack.TaskID = ev.TaskID
	if err != nil {
		logger.WithFields(logger.Fields{"error": err.Error(), "body": string(body)}).Warn("[Webhook] unrecognized callback payload")
		return ack
	}
	span.SetAttributes(attribute.String("task_id", ev.TaskID), attribute.String("status", ev.RawStatus))

	log := logger.WithFields(logger.Fields{"task_id": ev.TaskID, "status": ev.RawStatus})

	job, err := s.store.FindByExternalTaskID(ctx, ev.TaskID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			log.Warn("[Webhook] callback for unknown task")
		} else {
			log.Errorf("[Webhook] failed to look up task: %v", err)
		}
		return ack
	}
	ack.Recognized = true
	log = log.WithField("job_id", job.ID)

	if job.IsTerminal() {
		log.WithField("stage", job.Stage).Debug("[Webhook] job already finalized, ignoring callback")
		return ack
	}

	_, applied, err := s.advance(ctx, job, outcomeFromEvent(ev), "webhook")
	if err != nil {
		log.Errorf("[Webhook] failed to apply callback: %v", err)
		return ack
	}
	ack.Applied = applied
	log.WithField("applied", applied).Info("[Webhook] callback processed")
	return ack
}
