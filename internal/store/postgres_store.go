package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/makeasinger/musicgen/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const jobColumns = `
	id, channel_id, user_id, prompt, title, style, instrumental,
	COALESCE(external_task_id, ''), stage, result_url, error_code, error_message,
	post_process_claimed, artifact_url, version, created_at, updated_at, completed_at`

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps jobs in the generation_jobs table. Guarded writes
// lock the row with SELECT ... FOR UPDATE for the length of the check.
type PostgresStore struct {
	db  DB
	now Clock
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: defaultClock}
}

// Migrate creates the jobs table and its indexes if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, jobID, channelID, userID string, req model.GenerationRequest) (*model.Job, error) {
	job := model.NewJob(jobID, channelID, userID, req, s.now())
	query := `
		INSERT INTO generation_jobs (
			id, channel_id, user_id, prompt, title, style, instrumental,
			stage, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.Exec(ctx, query,
		job.ID, job.ChannelID, job.UserID, job.Prompt, job.Title, job.Style, job.Instrumental,
		string(job.Stage), job.Version, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrJobExists
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	var result *model.Job
	var applyErr error

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1 FOR UPDATE`, jobID))
		if err != nil {
			return err
		}

		before := job.Version
		result = job
		if applyErr = job.Apply(upd, s.now()); applyErr != nil {
			return nil
		}
		if job.Version == before {
			return nil
		}
		return writeJob(ctx, tx, job)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrTaskIDConflict
		}
		return nil, err
	}
	return result, applyErr
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, jobID))
}

func (s *PostgresStore) FindByExternalTaskID(ctx context.Context, taskID string) (*model.Job, error) {
	return scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE external_task_id = $1`, taskID))
}

func (s *PostgresStore) ClaimPostProcessing(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE generation_jobs
		SET post_process_claimed = true, version = version + 1, updated_at = $2
		WHERE id = $1 AND stage = $3 AND post_process_claimed = false
	`
	tag, err := s.db.Exec(ctx, query, jobID, s.now(), string(model.StageSuccess))
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) ReleasePostProcessing(ctx context.Context, jobID string) error {
	query := `
		UPDATE generation_jobs
		SET post_process_claimed = false, version = version + 1, updated_at = $2
		WHERE id = $1 AND post_process_claimed = true AND artifact_url = ''
	`
	tag, err := s.db.Exec(ctx, query, jobID, s.now())
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) RecordArtifact(ctx context.Context, jobID, url string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE generation_jobs SET artifact_url = $2, updated_at = $3 WHERE id = $1`,
		jobID, url, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobNotFound
	}
	return nil
}

func writeJob(ctx context.Context, tx pgx.Tx, job *model.Job) error {
	query := `
		UPDATE generation_jobs SET
			external_task_id = NULLIF($2, ''),
			stage = $3,
			title = $4,
			result_url = $5,
			error_code = $6,
			error_message = $7,
			version = $8,
			updated_at = $9,
			completed_at = $10
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query,
		job.ID, job.ExternalTaskID, string(job.Stage), job.Title, job.ResultURL,
		job.ErrorCode, job.ErrorMessage, job.Version, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var job model.Job
	var stage string
	err := row.Scan(
		&job.ID, &job.ChannelID, &job.UserID, &job.Prompt, &job.Title, &job.Style, &job.Instrumental,
		&job.ExternalTaskID, &stage, &job.ResultURL, &job.ErrorCode, &job.ErrorMessage,
		&job.PostProcessClaimed, &job.ArtifactURL, &job.Version, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	job.Stage = model.Stage(stage)
	return &job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
