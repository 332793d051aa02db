package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/internal/model"
)

const maxTxRetries = 16

// RedisStore keeps each job as JSON under job:<id> and indexes the
// provider task id under job:task:<taskId>. Writes use WATCH/MULTI so
// a concurrent writer forces a re-read instead of a lost update.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
	now Clock
}

// NewRedisStore creates a RedisStore. A zero ttl keeps records forever.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, now: defaultClock}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func taskKey(taskID string) string {
	return fmt.Sprintf("job:task:%s", taskID)
}

func (s *RedisStore) Create(ctx context.Context, jobID, channelID, userID string, req model.GenerationRequest) (*model.Job, error) {
	job := model.NewJob(jobID, channelID, userID, req, s.now())
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, jobKey(jobID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return nil, model.ErrJobExists
	}
	return job, nil
}

func (s *RedisStore) Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	keys := []string{jobKey(jobID)}
	if upd.ExternalTaskID != nil && *upd.ExternalTaskID != "" {
		keys = append(keys, taskKey(*upd.ExternalTaskID))
	}

	var result *model.Job
	err := s.watch(ctx, func(tx *redis.Tx) error {
		job, err := s.read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if len(keys) > 1 {
			owner, err := tx.Get(ctx, keys[1]).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if owner != "" && owner != jobID {
				return model.ErrTaskIDConflict
			}
		}

		before := job.Version
		if err := job.Apply(upd, s.now()); err != nil {
			result = job
			return err
		}
		result = job
		if job.Version == before {
			return nil
		}

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keys[0], data, s.ttl)
			if job.ExternalTaskID != "" {
				pipe.Set(ctx, taskKey(job.ExternalTaskID), jobID, s.ttl)
			}
			return nil
		})
		return err
	}, keys...)

	return result, err
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return s.read(ctx, s.rdb, jobID)
}

func (s *RedisStore) FindByExternalTaskID(ctx context.Context, taskID string) (*model.Job, error) {
	jobID, err := s.rdb.Get(ctx, taskKey(taskID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrJobNotFound
		}
		return nil, err
	}
	return s.read(ctx, s.rdb, jobID)
}

func (s *RedisStore) ClaimPostProcessing(ctx context.Context, jobID string) (bool, error) {
	claimed := false
	err := s.mutate(ctx, jobID, func(job *model.Job) bool {
		claimed = job.Claim(s.now())
		return claimed
	})
	return claimed, err
}

func (s *RedisStore) ReleasePostProcessing(ctx context.Context, jobID string) error {
	return s.mutate(ctx, jobID, func(job *model.Job) bool {
		return job.Release(s.now())
	})
}

func (s *RedisStore) RecordArtifact(ctx context.Context, jobID, url string) error {
	return s.mutate(ctx, jobID, func(job *model.Job) bool {
		job.ArtifactURL = url
		job.UpdatedAt = s.now()
		return true
	})
}

// mutate runs fn against the stored job and writes it back when fn
// reports a change.
func (s *RedisStore) mutate(ctx context.Context, jobID string, fn func(*model.Job) bool) error {
	key := jobKey(jobID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		job, err := s.read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !fn(job) {
			return nil
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
}

// watch retries fn while another client modifies the watched keys.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		logger.WithFields(logger.Fields{"keys": keys, "attempt": i + 1}).Debug("[Store] transaction conflict, retrying")
	}
	return fmt.Errorf("job update for %v did not converge after %d attempts", keys, maxTxRetries)
}

func (s *RedisStore) read(ctx context.Context, c redis.Cmdable, jobID string) (*model.Job, error) {
	data, err := c.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}
