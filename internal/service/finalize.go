package service

import (
	"context"
	"errors"
	"time"

	"github.com/makeasinger/musicgen/internal/callback"
	"github.com/makeasinger/musicgen/internal/client"
	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/internal/model"
)

// outcome is a provider report from either a status poll or a webhook.
type outcome struct {
	Status       model.ProviderStatus
	ResultURL    string
	Title        string
	ErrorMessage string
}

func outcomeFromStatus(st *client.MusicStatus) outcome {
	return outcome{Status: st.Status, ResultURL: st.ResultURL, Title: st.Title, ErrorMessage: st.ErrorMessage}
}

func outcomeFromEvent(ev callback.Event) outcome {
	return outcome{Status: ev.Status, ResultURL: ev.ResultURL, Title: ev.Title, ErrorMessage: ev.ErrorMessage}
}

// advance applies a provider report to job. Terminal reports go through
// finalize; anything else moves the job to PENDING. The bool reports
// whether the store changed.
func (s *GenerationService) advance(ctx context.Context, job *model.Job, out outcome, source string) (*model.Job, bool, error) {
	log := logger.WithJob(job.ID).WithField("source", source)

	switch {
	case out.Status == model.ProviderStatusSuccess && out.ResultURL != "":
		return s.finalize(ctx, job.ID, model.SuccessUpdate(out.ResultURL, out.Title), source)

	case out.Status == model.ProviderStatusFailed:
		msg := out.ErrorMessage
		if msg == "" {
			msg = "generation failed"
		}
		return s.finalize(ctx, job.ID, model.FailureUpdate(model.StageFailed, model.ErrorCodeGenerationFailed, msg), source)

	case out.Status == model.ProviderStatusSuccess:
		log.Warn("[Generation] provider reported success without a result url, waiting for the next report")
	}

	if job.Stage == model.StagePending {
		return job, false, nil
	}
	updated, err := s.update(ctx, job.ID, model.StageUpdate(model.StagePending))
	if err != nil {
		if errors.Is(err, model.ErrAlreadyFinalized) {
			return updated, false, nil
		}
		return job, false, err
	}
	return updated, true, nil
}

// finalize writes a terminal update. Only the caller whose write was
// applied gets true; it cancels the job's poller and, for SUCCESS, tries
// to claim post-processing. Losing writers see a no-op.
func (s *GenerationService) finalize(ctx context.Context, jobID string, upd model.JobUpdate, source string) (*model.Job, bool, error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.WithJob(jobID).WithField("source", source)

	job, err := s.update(ctx, jobID, upd)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyFinalized) {
			log.WithField("stage", stageOf(job)).Debug("[Generation] job already finalized, ignoring report")
			s.pollers.cancel(jobID)
			return job, false, nil
		}
		log.Errorf("[Generation] failed to finalize job: %v", err)
		return job, false, err
	}

	log.WithField("stage", job.Stage).Info("[Generation] job finalized")
	s.pollers.cancel(jobID)

	if job.Stage == model.StageSuccess {
		s.startPostProcessing(ctx, job)
	}
	return job, true, nil
}

// startPostProcessing claims the job and dispatches it. A dispatch that
// keeps failing releases the claim so the job is not marked as handed off.
func (s *GenerationService) startPostProcessing(ctx context.Context, job *model.Job) {
	log := logger.WithJob(job.ID)
	if s.post == nil {
		return
	}

	claimed, err := s.store.ClaimPostProcessing(ctx, job.ID)
	if err != nil {
		log.Errorf("[Generation] failed to claim post-processing: %v", err)
		return
	}
	if !claimed {
		log.Debug("[Generation] post-processing already claimed")
		return
	}

	for attempt := 1; attempt <= s.opts.PostProcessAttempts; attempt++ {
		if err = s.post.Enqueue(ctx, job); err == nil {
			log.Info("[Generation] post-processing enqueued")
			return
		}
		log.WithField("attempt", attempt).Warnf("[Generation] failed to enqueue post-processing: %v", err)
		if attempt < s.opts.PostProcessAttempts {
			time.Sleep(time.Duration(attempt) * s.opts.PostProcessBackoff)
		}
	}

	if rerr := s.store.ReleasePostProcessing(ctx, job.ID); rerr != nil {
		log.Errorf("[Generation] failed to release post-processing claim: %v", rerr)
		return
	}
	log.Errorf("[Generation] post-processing not dispatched, claim released: %v", err)
}

// update persists upd outside the caller's cancellation and notifies
// listeners when the write went through.
func (s *GenerationService) update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	job, err := s.store.Update(context.WithoutCancel(ctx), jobID, upd)
	if err != nil {
		return job, err
	}
	s.notify(job)
	return job, nil
}

func stageOf(job *model.Job) model.Stage {
	if job == nil {
		return ""
	}
	return job.Stage
}
