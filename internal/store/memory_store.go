package store

import (
	"context"
	"sync"

	"github.com/makeasinger/musicgen/internal/model"
)

// MemoryStore keeps jobs in process memory. Used for local development
// and tests; records are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*model.Job
	byTask map[string]string
	now    Clock
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*model.Job),
		byTask: make(map[string]string),
		now:    defaultClock,
	}
}

func (s *MemoryStore) Create(ctx context.Context, jobID, channelID, userID string, req model.GenerationRequest) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; ok {
		return nil, model.ErrJobExists
	}
	job := model.NewJob(jobID, channelID, userID, req, s.now())
	s.jobs[jobID] = job
	return job.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	if upd.ExternalTaskID != nil {
		if owner, taken := s.byTask[*upd.ExternalTaskID]; taken && owner != jobID {
			return nil, model.ErrTaskIDConflict
		}
	}

	next := job.Clone()
	if err := next.Apply(upd, s.now()); err != nil {
		return job.Clone(), err
	}
	s.jobs[jobID] = next
	if next.ExternalTaskID != "" {
		s.byTask[next.ExternalTaskID] = jobID
	}
	return next.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) FindByExternalTaskID(ctx context.Context, taskID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobID, ok := s.byTask[taskID]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return s.jobs[jobID].Clone(), nil
}

func (s *MemoryStore) ClaimPostProcessing(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, model.ErrJobNotFound
	}
	return job.Claim(s.now()), nil
}

func (s *MemoryStore) ReleasePostProcessing(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return model.ErrJobNotFound
	}
	job.Release(s.now())
	return nil
}

func (s *MemoryStore) RecordArtifact(ctx context.Context, jobID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return model.ErrJobNotFound
	}
	job.ArtifactURL = url
	job.UpdatedAt = s.now()
	return nil
}
