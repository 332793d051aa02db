package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/internal/model"
)

// pollerRegistry tracks one cancellable background poller per job.
type pollerRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

func newPollerRegistry() *pollerRegistry {
	return &pollerRegistry{cancels: make(map[string]context.CancelFunc)}
}

// start launches fn for jobID unless a poller for it is already running.
func (r *pollerRegistry) start(jobID string, fn func(ctx context.Context, jobID string)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if _, ok := r.cancels[jobID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancels[jobID] = cancel
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.remove(jobID)
		fn(ctx, jobID)
	}()
	return true
}

func (r *pollerRegistry) cancel(jobID string) {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *pollerRegistry) remove(jobID string) {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	delete(r.cancels, jobID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *pollerRegistry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// shutdown cancels every poller and waits for them to return.
func (r *pollerRegistry) shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pollers did not stop: %w", ctx.Err())
	}
}

// runPoller is the long-window fallback for jobs whose webhook never
// arrives. It stops as soon as the job is terminal and marks it TIMEOUT
// when the window runs out.
func (s *GenerationService) runPoller(ctx context.Context, jobID string) {
	log := logger.WithJob(jobID)
	log.Debug("[Poller] started")

	deadline := time.NewTimer(s.opts.BackgroundTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.BackgroundPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("[Poller] cancelled")
			return

		case <-deadline.C:
			msg := fmt.Sprintf("provider did not finish the generation within %s", s.opts.BackgroundTimeout)
			job, applied, err := s.finalize(ctx, jobID, model.FailureUpdate(model.StageTimeout, model.ErrorCodePipelineTimeout, msg), "poller")
			if err != nil {
				log.Errorf("[Poller] failed to mark job timed out: %v", err)
				return
			}
			if applied {
				log.Warn("[Poller] job timed out")
			} else {
				log.WithField("stage", stageOf(job)).Debug("[Poller] job finished before the window closed")
			}
			return

		case <-ticker.C:
			if _, done := s.pollOnce(ctx, jobID, "poller"); done {
				log.Debug("[Poller] job is terminal, stopping")
				return
			}
		}
	}
}

// pollOnce re-reads the job, moves it to PENDING and asks the provider
// for the task status once. It reports true when the job is terminal.
func (s *GenerationService) pollOnce(ctx context.Context, jobID, source string) (*model.Job, bool) {
	log := logger.WithJob(jobID).WithField("source", source)

	job, err := s.store.Get(context.WithoutCancel(ctx), jobID)
	if err != nil {
		log.Errorf("[Generation] failed to read job: %v", err)
		return nil, false
	}
	if job.IsTerminal() {
		return job, true
	}
	if job.ExternalTaskID == "" {
		return job, false
	}

	if job.Stage != model.StagePending {
		pending, err := s.update(ctx, jobID, model.StageUpdate(model.StagePending))
		if err != nil {
			return pending, pending != nil && pending.IsTerminal()
		}
		job = pending
	}

	status, err := s.provider.GetMusicStatus(ctx, job.ExternalTaskID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("[Generation] status check failed: %v", err)
		}
		return job, false
	}
	log.WithField("status", status.RawStatus).Debug("[Generation] provider status")

	job, _, err = s.advance(ctx, job, outcomeFromStatus(status), source)
	if err != nil || job == nil {
		return job, false
	}
	return job, job.IsTerminal()
}
