package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Foldflow/internal/domain"
)

// JobRepo — репозиторий batch jobs.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `id, name, command, dir, log_path, env, resources, state, exit_code,
	       worker_id, error, submitted_at, started_at, finished_at`

// Create сохраняет новый job в статусе PENDING.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	envJSON, err := json.Marshal(job.Env)
	if err != nil {
		return fmt.Errorf("marshal env: %w", err)
	}
	resJSON, err := json.Marshal(job.Resources)
	if err != nil {
		return fmt.Errorf("marshal resources: %w", err)
	}

	query := `
		INSERT INTO foldflow_jobs (id, name, command, dir, log_path, env, resources, state, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Name,
		job.Command,
		job.Dir,
		job.LogPath,
		envJSON,
		resJSON,
		job.State,
		job.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM foldflow_jobs WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// Claim атомарно переводит job из PENDING в RUNNING.
// Возвращает ErrInvalidState, если job уже взят другим воркером.
func (r *JobRepo) Claim(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE foldflow_jobs
		SET state = $2, worker_id = $3, started_at = $4
		WHERE id = $1 AND state = 'PENDING'
	`
	result, err := r.pool.Exec(ctx, query, job.ID, job.State, job.WorkerID, job.StartedAt)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Finish записывает финальное состояние job.
func (r *JobRepo) Finish(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE foldflow_jobs
		SET state = $2, exit_code = $3, error = $4, finished_at = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		job.ID,
		job.State,
		job.ExitCode,
		nullString(job.Error),
		job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending возвращает jobs в статусе PENDING в порядке отправки.
func (r *JobRepo) ListPending(ctx context.Context, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM foldflow_jobs
		WHERE state = 'PENDING'
		ORDER BY submitted_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// --- Helpers ---

// scanJob сканирует одну строку в Job. Подходит и для pgx.Row, и для pgx.Rows.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var envJSON, resJSON []byte
	var workerID, jobError *string

	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Command,
		&job.Dir,
		&job.LogPath,
		&envJSON,
		&resJSON,
		&job.State,
		&job.ExitCode,
		&workerID,
		&jobError,
		&job.SubmittedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if envJSON != nil {
		if err := json.Unmarshal(envJSON, &job.Env); err != nil {
			return nil, fmt.Errorf("unmarshal env: %w", err)
		}
	}
	if resJSON != nil {
		if err := json.Unmarshal(resJSON, &job.Resources); err != nil {
			return nil, fmt.Errorf("unmarshal resources: %w", err)
		}
	}
	if workerID != nil {
		job.WorkerID = *workerID
	}
	if jobError != nil {
		job.Error = *jobError
	}

	return &job, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
