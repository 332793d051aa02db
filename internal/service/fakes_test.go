package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makeasinger/musicgen/internal/client"
	"github.com/makeasinger/musicgen/internal/model"
	"github.com/makeasinger/musicgen/internal/queue"
	"github.com/makeasinger/musicgen/internal/store"
)

type statusFunc func(ctx context.Context, call int) (*client.MusicStatus, error)

type fakeProvider struct {
	mu          sync.Mutex
	credits     int
	creditsErr  error
	generateErr error
	taskID      string
	status      statusFunc
	statusCalls int

	generateCalls atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{credits: 10, taskID: "abc123"}
}

func (f *fakeProvider) GenerateMusic(ctx context.Context, req *client.GenerateMusicRequest) (*client.GenerateMusicResponse, error) {
	n := f.generateCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	// later submissions get their own task ids
	taskID := f.taskID
	if n > 1 {
		taskID = fmt.Sprintf("%s-%d", f.taskID, n)
	}
	return &client.GenerateMusicResponse{TaskID: taskID}, nil
}

func (f *fakeProvider) GetMusicStatus(ctx context.Context, taskID string) (*client.MusicStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	call := f.statusCalls
	fn := f.status
	f.mu.Unlock()

	if fn == nil {
		return pending(), nil
	}
	return fn(ctx, call)
}

func (f *fakeProvider) GetCredits(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credits, f.creditsErr
}

func (f *fakeProvider) setStatus(fn statusFunc) {
	f.mu.Lock()
	f.status = fn
	f.mu.Unlock()
}

func pending() *client.MusicStatus {
	return &client.MusicStatus{Status: model.ProviderStatusPending, RawStatus: "PENDING"}
}

func succeeded(url string) *client.MusicStatus {
	return &client.MusicStatus{Status: model.ProviderStatusSuccess, RawStatus: "SUCCESS", ResultURL: url, Title: "Lofi"}
}

func failed(msg string) *client.MusicStatus {
	return &client.MusicStatus{Status: model.ProviderStatusFailed, RawStatus: "GENERATE_AUDIO_FAILED", ErrorMessage: msg}
}

// recordingNotifier keeps the stage sequence observed per job.
type recordingNotifier struct {
	mu     sync.Mutex
	stages map[string][]model.Stage
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{stages: make(map[string][]model.Stage)}
}

func (n *recordingNotifier) JobUpdated(job *model.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stages[job.ID] = append(n.stages[job.ID], job.Stage)
}

func (n *recordingNotifier) seen(jobID string) []model.Stage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Stage(nil), n.stages[jobID]...)
}

func (n *recordingNotifier) jobs() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.stages)
}

// countingPostProcessor counts post-processing dispatches per job.
type countingPostProcessor struct {
	mu       sync.Mutex
	calls    map[string]int
	failures int
}

func newCountingPostProcessor() *countingPostProcessor {
	return &countingPostProcessor{calls: make(map[string]int)}
}

func (p *countingPostProcessor) Enqueue(ctx context.Context, job *model.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.calls[job.ID]++
	return nil
}

// failNext makes the next n enqueues fail.
func (p *countingPostProcessor) failNext(n int) {
	p.mu.Lock()
	p.failures = n
	p.mu.Unlock()
}

func (p *countingPostProcessor) count(jobID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[jobID]
}

type testEnv struct {
	svc      *GenerationService
	store    *store.MemoryStore
	provider *fakeProvider
	notifier *recordingNotifier
	post     *countingPostProcessor
}

// fastOptions scales the production timings down to milliseconds.
func fastOptions() Options {
	return Options{
		ShortPollInterval:      10 * time.Millisecond,
		ShortWaitTimeout:       60 * time.Millisecond,
		BackgroundPollInterval: time.Hour,
		BackgroundTimeout:      time.Hour,
		PreflightCredits:       true,
		MaxPromptLength:        100,
		PostProcessAttempts:    3,
		PostProcessBackoff:     time.Millisecond,
	}
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    store.NewMemoryStore(),
		provider: newFakeProvider(),
		notifier: newRecordingNotifier(),
		post:     newCountingPostProcessor(),
	}
	env.svc = NewGenerationService(Deps{
		Store:         env.store,
		Queue:         queue.New(queue.Options{Concurrency: 1}),
		Provider:      env.provider,
		Notifier:      env.notifier,
		PostProcessor: env.post,
	}, opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = env.svc.Shutdown(ctx)
	})
	return env
}

// serviceOver builds a second service on js that shares the env's fakes.
func (e *testEnv) serviceOver(t *testing.T, js store.JobStore, opts Options) *GenerationService {
	t.Helper()
	svc := NewGenerationService(Deps{
		Store:         js,
		Queue:         queue.New(queue.Options{Concurrency: 1}),
		Provider:      e.provider,
		Notifier:      e.notifier,
		PostProcessor: e.post,
	}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

var errStoreDown = errors.New("store unavailable")

// failingStore fails the selected writes.
type failingStore struct {
	*store.MemoryStore
	failCreate bool
	failUpdate bool
}

func (s *failingStore) Create(ctx context.Context, jobID, channelID, userID string, req model.GenerationRequest) (*model.Job, error) {
	if s.failCreate {
		return nil, errStoreDown
	}
	return s.MemoryStore.Create(ctx, jobID, channelID, userID, req)
}

func (s *failingStore) Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	if s.failUpdate {
		return nil, errStoreDown
	}
	return s.MemoryStore.Update(ctx, jobID, upd)
}

// racingStore finalizes a job right after its task id is written, the way
// a webhook landing before the poller registers would.
type racingStore struct {
	*store.MemoryStore
}

func (s *racingStore) Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	job, err := s.MemoryStore.Update(ctx, jobID, upd)
	if err == nil && upd.ExternalTaskID != nil {
		_, _ = s.MemoryStore.Update(ctx, jobID, model.SuccessUpdate("https://cdn/early.mp3", "Early"))
	}
	return job, err
}

func (e *testEnv) input(prompt string) SubmitInput {
	return SubmitInput{Prompt: prompt, ChannelID: "ch-1", UserID: "user-1"}
}

// pendingJob creates a job that already reached PENDING for taskID.
func (e *testEnv) pendingJob(t *testing.T, jobID, taskID string) *model.Job {
	t.Helper()
	ctx := context.Background()
	_, err := e.store.Create(ctx, jobID, "ch-1", "user-1", model.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.store.Update(ctx, jobID, model.TaskCreatedUpdate(taskID)); err != nil {
		t.Fatalf("task created: %v", err)
	}
	job, err := e.store.Update(ctx, jobID, model.StageUpdate(model.StagePending))
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	return job
}

func (f *fakeProvider) statusCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}
