// Package store persists generation jobs. Every implementation runs
// model.Job.Apply inside an atomic read-check-write, so a job that
// reached a terminal stage can never be overwritten by a late writer.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/musicgen/internal/config"
	"github.com/makeasinger/musicgen/internal/model"
)

// JobStore is the durable record of generation jobs.
type JobStore interface {
	// Create inserts a job in the ACCEPTED stage.
	Create(ctx context.Context, jobID, channelID, userID string, req model.GenerationRequest) (*model.Job, error)

	// Update applies a guarded partial write and returns the stored job.
	// A write against a terminal job returns model.ErrAlreadyFinalized.
	Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error)

	Get(ctx context.Context, jobID string) (*model.Job, error)
	FindByExternalTaskID(ctx context.Context, taskID string) (*model.Job, error)

	// ClaimPostProcessing atomically flips the post-processing flag on a
	// SUCCESS job. Exactly one caller ever gets true.
	ClaimPostProcessing(ctx context.Context, jobID string) (bool, error)

	// ReleasePostProcessing clears a claim whose dispatch failed. It is a
	// no-op once an artifact was recorded.
	ReleasePostProcessing(ctx context.Context, jobID string) error

	// RecordArtifact stores where post-processing put the audio.
	RecordArtifact(ctx context.Context, jobID, url string) error
}

// Clock lets tests pin timestamps.
type Clock func() time.Time

func defaultClock() time.Time {
	return time.Now().UTC()
}

// Open builds the JobStore selected by cfg.Driver. The returned close
// func releases connections the store owns; the Redis client is shared
// and stays open.
func Open(ctx context.Context, cfg config.StoreConfig, pg config.PostgresConfig, rdb redis.UniversalClient) (JobStore, func(), error) {
	switch cfg.Driver {
	case "", "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedisStore(rdb, cfg.JobTTL), func() {}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, pg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		s := NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil

	case "memory":
		return NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
