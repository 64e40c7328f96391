package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
)

const transcriptColumns = `id, subject_id, format, status, progress, result_url, file_path, message_count, error_message, created_by, created_at, finished_at`

// TranscriptRepository persists transcript export jobs.
type TranscriptRepository struct {
	db *sqlx.DB
}

// NewTranscriptRepository constructs the repository.
func NewTranscriptRepository(db *sqlx.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// Create inserts a new job row with generated defaults.
func (r *TranscriptRepository) Create(ctx context.Context, job *models.TranscriptJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.TranscriptStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO chat_transcript_jobs (id, subject_id, format, status, progress, created_by, created_at)
VALUES (:id, :subject_id, :format, :status, :progress, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create transcript job: %w", err)
	}
	return nil
}

// GetByID returns a job or appErrors.ErrNotFound.
func (r *TranscriptRepository) GetByID(ctx context.Context, id string) (*models.TranscriptJob, error) {
	query := `SELECT ` + transcriptColumns + ` FROM chat_transcript_jobs WHERE id = $1`
	var job models.TranscriptJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "transcript job not found")
		}
		return nil, fmt.Errorf("get transcript job: %w", err)
	}
	return &job, nil
}

// TranscriptUpdate lists the mutable fields of a job; nil fields are left untouched.
type TranscriptUpdate struct {
	Status       *models.TranscriptStatus
	Progress     *int
	ResultURL    *string
	FilePath     *string
	MessageCount *int
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *TranscriptRepository) Update(ctx context.Context, id string, u TranscriptUpdate) error {
	set := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.ResultURL != nil {
		add("result_url", *u.ResultURL)
	}
	if u.FilePath != nil {
		add("file_path", *u.FilePath)
	}
	if u.MessageCount != nil {
		add("message_count", *u.MessageCount)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.FinishedAt != nil {
		add("finished_at", *u.FinishedAt)
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE chat_transcript_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update transcript job: %w", err)
	}
	return nil
}

// ListQueued fetches queued jobs for replay after a restart.
func (r *TranscriptRepository) ListQueued(ctx context.Context, limit int) ([]models.TranscriptJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + transcriptColumns + ` FROM chat_transcript_jobs
WHERE status IN ('QUEUED', 'PROCESSING') ORDER BY created_at ASC LIMIT $1`
	jobs := make([]models.TranscriptJob, 0)
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued transcript jobs: %w", err)
	}
	return jobs, nil
}

// ListFinishedBefore returns finished jobs older than cutoff that still own a file.
func (r *TranscriptRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.TranscriptJob, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + transcriptColumns + ` FROM chat_transcript_jobs
WHERE status = 'FINISHED' AND finished_at IS NOT NULL AND finished_at < $1
AND file_path IS NOT NULL AND file_path <> ''
ORDER BY finished_at ASC LIMIT $2`
	jobs := make([]models.TranscriptJob, 0)
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished transcript jobs: %w", err)
	}
	return jobs, nil
}
