package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
)

var transcriptRowColumns = []string{"id", "subject_id", "format", "status", "progress", "result_url", "file_path", "message_count", "error_message", "created_by", "created_at", "finished_at"}

func TestTranscriptRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTranscriptRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chat_transcript_jobs")).
		WithArgs(sqlmock.AnyArg(), "42", "csv", "QUEUED", 0, "5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.TranscriptJob{SubjectID: "42", Format: models.TranscriptFormatCSV, CreatedBy: "5"}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NotEmpty(t, job.ID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM chat_transcript_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(sqlmock.NewRows(transcriptRowColumns).
			AddRow(job.ID, "42", "csv", "QUEUED", 0, nil, nil, 0, nil, "5", time.Now(), nil))

	fetched, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptStatusQueued, fetched.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranscriptRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTranscriptRepository(db)

	mock.ExpectQuery("FROM chat_transcript_jobs").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestTranscriptRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTranscriptRepository(db)

	now := time.Now()
	status := models.TranscriptStatusFinished
	progress := 100
	url := "/api/v1/chat/transcripts/download/token"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chat_transcript_jobs SET status = $1, progress = $2, result_url = $3, finished_at = $4 WHERE id = $5")).
		WithArgs(status, progress, url, now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), "job-1", TranscriptUpdate{
		Status:     &status,
		Progress:   &progress,
		ResultURL:  &url,
		FinishedAt: &now,
	}))
	require.NoError(t, repo.Update(context.Background(), "job-1", TranscriptUpdate{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranscriptRepositoryListQueued(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewTranscriptRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ('QUEUED', 'PROCESSING') ORDER BY created_at ASC LIMIT $1")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(transcriptRowColumns).
			AddRow("job-1", "42", "pdf", "QUEUED", 0, nil, nil, 0, nil, "5", time.Now(), nil))

	jobs, err := repo.ListQueued(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.TranscriptFormatPDF, jobs[0].Format)
}
