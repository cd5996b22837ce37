package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/store"
)

const jobColumns = `id, image_id, image_key, analysis_type, parameters, status,
	result, error_message, created_at, completed_at, owner_instance, owner_boot`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// WithTx returns a store that runs its statements inside tx.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) *PostgresJobStore {
	return &PostgresJobStore{db: tx, logger: s.logger}
}

// CreateJob implements store.JobStore.CreateJob.
// Returns store.ErrImageNotFound if the referenced image row is missing.
func (s *PostgresJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID))
		return err
	}
	if job.Status != domain.JobStatusProcessing {
		return fmt.Errorf("%w: new job must be processing, got %s", store.ErrInvalidEntity, job.Status)
	}

	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("%w: parameters are not valid JSON: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO analysis_jobs (id, image_id, image_key, analysis_type, parameters, status, created_at,
			owner_instance, owner_boot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.ImageID,
		job.ImageKey,
		job.AnalysisType,
		string(params),
		string(job.Status),
		job.CreatedAt,
		job.Owner.Instance,
		job.Owner.Boot,
	)
	if err != nil {
		switch {
		case IsUniqueViolation(err):
			log.Warn("job id already recorded", slog.String("job_id", job.ID))
			return MapUniqueViolation(err, store.ErrJobExists)
		case IsForeignKeyViolation(err):
			log.Warn("job references a missing image",
				slog.String("job_id", job.ID),
				slog.String("image_key", job.ImageKey))
			return fmt.Errorf("%w: %s", store.ErrImageNotFound, job.ImageKey)
		}
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID))
		return fmt.Errorf("failed to create job: %w", MapError(err))
	}

	log.Debug("job created",
		slog.String("job_id", job.ID),
		slog.String("analysis_type", job.AnalysisType))
	return nil
}

// GetJob implements store.JobStore.GetJob.
func (s *PostgresJobStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("job not found", slog.String("job_id", id))
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to get job",
			slog.String("error", err.Error()),
			slog.String("job_id", id))
		return nil, fmt.Errorf("failed to get job: %w", MapError(err))
	}
	return job, nil
}

// ListJobs implements store.JobStore.ListJobs.
func (s *PostgresJobStore) ListJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		return []*domain.Job{}, nil
	}

	query := `SELECT ` + jobColumns + `
		FROM analysis_jobs
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		log.Error("failed to list jobs", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list jobs: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*domain.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			log.Error("failed to scan job row", slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobTerminal implements store.JobStore.UpdateJobTerminal.
// The guarded UPDATE makes the first terminal write win; a later write
// affects no rows and is reported as store.ErrJobAlreadyTerminal.
func (s *PostgresJobStore) UpdateJobTerminal(ctx context.Context, update store.TerminalUpdate) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("job_id", update.JobID),
		slog.String("status", string(update.Status)))

	if err := update.Validate(); err != nil {
		log.Warn("invalid terminal update", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	var result, errMsg any
	if update.Status == domain.JobStatusCompleted {
		result = string(update.Result)
	} else {
		errMsg = update.Error
	}

	query := `
		UPDATE analysis_jobs
		SET status = $1, result = $2, error_message = $3, completed_at = $4
		WHERE id = $5 AND status = 'processing'
	`
	res, err := s.db.ExecContext(ctx, query,
		string(update.Status),
		result,
		errMsg,
		update.CompletedAt.UTC(),
		update.JobID,
	)
	if err != nil {
		log.Error("failed to write terminal state", slog.String("error", err.Error()))
		return fmt.Errorf("failed to update job: %w", MapError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM analysis_jobs WHERE id = $1)`, update.JobID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check job existence: %w", MapError(err))
	}
	if !exists {
		return store.ErrJobNotFound
	}
	log.Warn("terminal write rejected, job already finished")
	return store.ErrJobAlreadyTerminal
}

// FailInterruptedJobs implements store.JobStore.FailInterruptedJobs.
// Only rows stamped with owner.Instance are touched, so replicas sharing the
// database never fail each other's jobs as long as their instance names differ.
func (s *PostgresJobStore) FailInterruptedJobs(
	ctx context.Context,
	owner domain.JobOwner,
	message string,
) ([]string, error) {
	db, ok := s.db.(*sql.DB)
	if !ok {
		// Already running inside the caller's transaction.
		return s.failInterrupted(ctx, s.db, owner, message)
	}

	var ids []string
	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		ids, err = s.failInterrupted(ctx, tx, owner, message)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresJobStore) failInterrupted(
	ctx context.Context,
	db store.DBTX,
	owner domain.JobOwner,
	message string,
) ([]string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := db.QueryContext(ctx, `
		SELECT id FROM analysis_jobs
		WHERE status = 'processing' AND owner_instance = $1 AND owner_boot <> $2
		ORDER BY created_at
		FOR UPDATE
	`, owner.Instance, owner.Boot)
	if err != nil {
		return nil, fmt.Errorf("failed to select interrupted jobs: %w", MapError(err))
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate interrupted jobs: %w", err)
	}
	_ = rows.Close()

	now := time.Now().UTC()
	for _, id := range ids {
		_, err := db.ExecContext(ctx, `
			UPDATE analysis_jobs
			SET status = 'failed', error_message = $1, completed_at = $2
			WHERE id = $3 AND status = 'processing'
		`, message, now, id)
		if err != nil {
			log.Error("failed to fail interrupted job",
				slog.String("job_id", id),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to update interrupted job %s: %w", id, MapError(err))
		}
	}

	if len(ids) > 0 {
		log.Warn("failed jobs interrupted by restart", slog.Int("count", len(ids)))
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job         domain.Job
		status      string
		params      []byte
		result      []byte
		errMsg      sql.NullString
		completedAt sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.ImageID,
		&job.ImageKey,
		&job.AnalysisType,
		&params,
		&status,
		&result,
		&errMsg,
		&job.CreatedAt,
		&completedAt,
		&job.Owner.Instance,
		&job.Owner.Boot,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.Parameters = map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters of job %s: %w", job.ID, err)
		}
	}
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	job.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}
