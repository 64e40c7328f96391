package models

import "time"

// TranscriptFormat enumerates supported transcript export formats.
type TranscriptFormat string

const (
	TranscriptFormatCSV TranscriptFormat = "csv"
	TranscriptFormatPDF TranscriptFormat = "pdf"
)

// TranscriptStatus captures background export lifecycle states.
type TranscriptStatus string

const (
	TranscriptStatusQueued     TranscriptStatus = "QUEUED"
	TranscriptStatusProcessing TranscriptStatus = "PROCESSING"
	TranscriptStatusFinished   TranscriptStatus = "FINISHED"
	TranscriptStatusFailed     TranscriptStatus = "FAILED"
)

// TranscriptJob is the persisted state of one chat transcript export.
type TranscriptJob struct {
	ID           string           `db:"id" json:"id"`
	SubjectID    string           `db:"subject_id" json:"subjectId"`
	Format       TranscriptFormat `db:"format" json:"format"`
	Status       TranscriptStatus `db:"status" json:"status"`
	Progress     int              `db:"progress" json:"progress"`
	ResultURL    *string          `db:"result_url" json:"resultUrl,omitempty"`
	FilePath     *string          `db:"file_path" json:"-"`
	MessageCount int              `db:"message_count" json:"messageCount"`
	ErrorMessage *string          `db:"error_message" json:"error,omitempty"`
	CreatedBy    string           `db:"created_by" json:"createdBy"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	FinishedAt   *time.Time       `db:"finished_at" json:"finishedAt,omitempty"`
}
