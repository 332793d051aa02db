package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/makeasinger/musicgen/internal/client"
	"github.com/makeasinger/musicgen/internal/config"
	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/internal/model"
	"github.com/makeasinger/musicgen/internal/queue"
	"github.com/makeasinger/musicgen/internal/store"
)

// Notifier receives every persisted change of a job.
type Notifier interface {
	JobUpdated(job *model.Job)
}

// PostProcessor runs follow-up work for a job that finished with SUCCESS.
type PostProcessor interface {
	Enqueue(ctx context.Context, job *model.Job) error
}

// Options holds the timing knobs of the orchestrator.
type Options struct {
	ShortPollInterval      time.Duration
	ShortWaitTimeout       time.Duration
	BackgroundPollInterval time.Duration
	BackgroundTimeout      time.Duration
	PreflightCredits       bool
	MaxPromptLength        int

	// Enqueue attempts for post-processing before the claim is released
	PostProcessAttempts int
	PostProcessBackoff  time.Duration
}

// OptionsFromConfig maps the generation config section onto Options.
func OptionsFromConfig(cfg *config.GenerationConfig) Options {
	return Options{
		ShortPollInterval:      cfg.ShortPollInterval,
		ShortWaitTimeout:       cfg.ShortWaitTimeout,
		BackgroundPollInterval: cfg.BackgroundPollInterval,
		BackgroundTimeout:      cfg.BackgroundTimeout,
		PreflightCredits:       cfg.PreflightCredits,
		MaxPromptLength:        cfg.MaxPromptLength,
	}
}

func (o *Options) setDefaults() {
	if o.ShortPollInterval <= 0 {
		o.ShortPollInterval = 3 * time.Second
	}
	if o.ShortWaitTimeout <= 0 {
		o.ShortWaitTimeout = 30 * time.Second
	}
	if o.BackgroundPollInterval <= 0 {
		o.BackgroundPollInterval = 12 * time.Second
	}
	if o.BackgroundTimeout <= 0 {
		o.BackgroundTimeout = 10 * time.Minute
	}
	if o.MaxPromptLength <= 0 {
		o.MaxPromptLength = 3000
	}
	if o.PostProcessAttempts <= 0 {
		o.PostProcessAttempts = 3
	}
	if o.PostProcessBackoff <= 0 {
		o.PostProcessBackoff = 500 * time.Millisecond
	}
}

// Deps groups the collaborators of GenerationService. Notifier,
// PostProcessor and Tracer are optional.
type Deps struct {
	Store         store.JobStore
	Queue         *queue.RequestQueue
	Provider      client.MusicGenerator
	Notifier      Notifier
	PostProcessor PostProcessor
	Tracer        oteltrace.Tracer
}

// SubmitOptions are the optional generation parameters.
type SubmitOptions struct {
	Title        string
	Style        string
	Instrumental bool
	Model        string
}

// SubmitInput is one generation request.
type SubmitInput struct {
	Prompt    string
	ChannelID string
	UserID    string
	Options   SubmitOptions
}

// SubmitInputFromRequest builds a SubmitInput from the HTTP request body.
func SubmitInputFromRequest(req *model.GenerationRequest, userID string) SubmitInput {
	return SubmitInput{
		Prompt:    req.Prompt,
		ChannelID: req.ChannelID,
		UserID:    userID,
		Options: SubmitOptions{
			Title:        req.Title,
			Style:        req.Style,
			Instrumental: req.Instrumental,
			Model:        req.Model,
		},
	}
}

// GenerationService orchestrates generation jobs: it submits them to the
// provider through the request queue, waits a bounded time for a result
// and leaves a background poller and the webhook to finish the rest.
type GenerationService struct {
	store    store.JobStore
	queue    *queue.RequestQueue
	provider client.MusicGenerator
	notifier Notifier
	post     PostProcessor
	tracer   oteltrace.Tracer
	opts     Options
	pollers  *pollerRegistry
}

func NewGenerationService(deps Deps, opts Options) *GenerationService {
	opts.setDefaults()
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("generation")
	}
	return &GenerationService{
		store:    deps.Store,
		queue:    deps.Queue,
		provider: deps.Provider,
		notifier: deps.Notifier,
		post:     deps.PostProcessor,
		tracer:   tracer,
		opts:     opts,
		pollers:  newPollerRegistry(),
	}
}

// Submit creates a job, sends it to the provider and waits up to the
// short wait timeout for a result. A non-terminal stage in the returned
// result is not an error. Provider failures return both the failed job
// snapshot and a *client.ProviderError.
func (s *GenerationService) Submit(ctx context.Context, in SubmitInput) (*model.SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "generation.submit")
	defer span.End()

	in.Prompt = strings.TrimSpace(in.Prompt)
	if err := s.validate(in); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	span.SetAttributes(
		attribute.String("job_id", jobID),
		attribute.String("channel_id", in.ChannelID),
	)
	log := logger.WithJob(jobID)

	job, err := s.store.Create(ctx, jobID, in.ChannelID, in.UserID, model.GenerationRequest{
		Prompt:       in.Prompt,
		ChannelID:    in.ChannelID,
		Title:        in.Options.Title,
		Style:        in.Options.Style,
		Instrumental: in.Options.Instrumental,
		Model:        in.Options.Model,
	})
	if err != nil {
		return nil, internalError("create job", err)
	}
	log.Info("[Generation] job accepted")
	s.notify(job)

	if s.opts.PreflightCredits {
		if result, perr := s.preflight(ctx, job); perr != nil {
			span.SetStatus(codes.Error, perr.Error())
			return result, perr
		}
	}

	// the provider call and the bookkeeping after it outlive the caller
	detached := context.WithoutCancel(ctx)

	if job, err = s.update(detached, jobID, model.StageUpdate(model.StageRequestSent)); err != nil {
		return nil, internalError("mark request sent", err)
	}

	resp, err := queue.Do(detached, s.queue, func(qctx context.Context) (*client.GenerateMusicResponse, error) {
		return s.provider.GenerateMusic(qctx, &client.GenerateMusicRequest{
			Prompt:       in.Prompt,
			Style:        in.Options.Style,
			Title:        in.Options.Title,
			Instrumental: in.Options.Instrumental,
			Model:        in.Options.Model,
		})
	})
	if err != nil {
		perr := client.AsProviderError(err)
		span.SetStatus(codes.Error, perr.Error())
		entry := log.WithFields(logger.Fields{"kind": perr.Kind, "status": perr.StatusCode})
		if perr.Kind == client.KindUnexpectedResponse {
			entry = entry.WithField("body", perr.Body)
		}
		entry.Warnf("[Generation] provider rejected job: %s", perr.Message)

		failed, _, ferr := s.finalize(detached, jobID, model.FailureUpdate(model.StageFailed, perr.Code(), perr.Error()), "submit")
		if ferr != nil {
			return nil, internalError("mark job failed", ferr)
		}
		return model.NewSubmitResult(failed), perr
	}

	if job, err = s.update(detached, jobID, model.TaskCreatedUpdate(resp.TaskID)); err != nil {
		if errors.Is(err, model.ErrAlreadyFinalized) {
			return model.NewSubmitResult(job), nil
		}
		return nil, internalError("record task id", err)
	}
	span.SetAttributes(attribute.String("task_id", resp.TaskID))
	log.WithField("task_id", resp.TaskID).Info("[Generation] provider task created")

	s.pollers.start(jobID, s.runPoller)
	// a webhook may have finalized the job before the poller was registered
	if current, err := s.store.Get(detached, jobID); err == nil && current.IsTerminal() {
		s.pollers.cancel(jobID)
	}

	job, err = s.WaitShort(ctx, jobID, s.opts.ShortPollInterval, s.opts.ShortWaitTimeout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if job == nil {
		if job, err = s.store.Get(detached, jobID); err != nil {
			return nil, internalError("read job", err)
		}
	}
	return model.NewSubmitResult(job), nil
}

// preflight fails the job with NO_CREDITS when the balance is exhausted.
// A failing credits call is logged and does not block the submission.
func (s *GenerationService) preflight(ctx context.Context, job *model.Job) (*model.SubmitResult, error) {
	log := logger.WithJob(job.ID)

	credits, err := s.provider.GetCredits(ctx)
	if err != nil {
		log.Warnf("[Generation] credits pre-flight failed, submitting anyway: %v", err)
		return nil, nil
	}
	if credits > 0 {
		return nil, nil
	}

	perr := &client.ProviderError{Kind: client.KindNoCredits, Message: "provider credit balance exhausted"}
	log.Warn("[Generation] no provider credits left")
	failed, _, err := s.finalize(context.WithoutCancel(ctx), job.ID, model.FailureUpdate(model.StageFailed, perr.Code(), perr.Error()), "preflight")
	if err != nil {
		return nil, internalError("mark job failed", err)
	}
	return model.NewSubmitResult(failed), perr
}

func (s *GenerationService) validate(in SubmitInput) error {
	if in.Prompt == "" {
		return validationError("prompt is required")
	}
	if n := utf8.RuneCountInString(in.Prompt); n > s.opts.MaxPromptLength {
		return validationError("prompt is %d characters, max is %d", n, s.opts.MaxPromptLength)
	}
	if strings.TrimSpace(in.ChannelID) == "" {
		return validationError("channelId is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return validationError("userId is required")
	}
	return nil
}

// WaitShort polls the provider every pollInterval until the job is
// terminal or timeout elapses. Reaching the timeout is not an error:
// the job is returned as it stands and the background poller carries on.
// A non-positive pollInterval uses the configured short poll interval.
func (s *GenerationService) WaitShort(ctx context.Context, jobID string, pollInterval, timeout time.Duration) (*model.Job, error) {
	ctx, span := s.tracer.Start(ctx, "generation.wait_short")
	defer span.End()

	if pollInterval <= 0 {
		pollInterval = s.opts.ShortPollInterval
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		polled, done := s.pollOnce(waitCtx, jobID, "short_wait")
		if polled != nil {
			job = polled
		}
		if done {
			return job, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return job, ctx.Err()
			}
			return s.latest(ctx, jobID, job), nil
		case <-ticker.C:
		}
	}
}

// latest re-reads the job, falling back to the last snapshot.
func (s *GenerationService) latest(ctx context.Context, jobID string, fallback *model.Job) *model.Job {
	job, err := s.store.Get(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return fallback
	}
	return job
}

// GetJob returns the current record of a job.
func (s *GenerationService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return nil, err
		}
		return nil, internalError("read job", err)
	}
	return job, nil
}

// GetCredits returns the provider credit balance.
func (s *GenerationService) GetCredits(ctx context.Context) (int, error) {
	return s.provider.GetCredits(ctx)
}

// Stats reports queue occupancy and the number of live pollers.
func (s *GenerationService) Stats() model.OrchestratorStats {
	qs := s.queue.Stats()
	return model.OrchestratorStats{
		QueuePending:  qs.Pending,
		QueueRunning:  qs.Running,
		ActivePollers: s.pollers.active(),
	}
}

// Shutdown stops every background poller and drains the request queue.
func (s *GenerationService) Shutdown(ctx context.Context) error {
	perr := s.pollers.shutdown(ctx)
	qerr := s.queue.Close(ctx)
	return errors.Join(perr, qerr)
}

func (s *GenerationService) notify(job *model.Job) {
	if s.notifier != nil && job != nil {
		s.notifier.JobUpdated(job)
	}
}
