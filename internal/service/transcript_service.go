package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/classlinker-chat/internal/dto"
	"github.com/noah-isme/classlinker-chat/internal/models"
	"github.com/noah-isme/classlinker-chat/internal/repository"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
	"github.com/noah-isme/classlinker-chat/pkg/export"
	"github.com/noah-isme/classlinker-chat/pkg/jobs"
	"github.com/noah-isme/classlinker-chat/pkg/storage"
)

type transcriptStore interface {
	Create(ctx context.Context, job *models.TranscriptJob) error
	GetByID(ctx context.Context, id string) (*models.TranscriptJob, error)
	Update(ctx context.Context, id string, u repository.TranscriptUpdate) error
	ListQueued(ctx context.Context, limit int) ([]models.TranscriptJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.TranscriptJob, error)
}

type transcriptDispatcher interface {
	Enqueue(job jobs.Job[string]) error
}

type subjectFinder interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

type fileStore interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type urlSigner interface {
	Sign(jobID, path string) (string, time.Time, error)
	Verify(token string) (storage.Grant, error)
	TTL() time.Duration
}

// TranscriptServiceConfig governs download URLs and cleanup.
type TranscriptServiceConfig struct {
	// DownloadPrefix is prepended to signed tokens to build result URLs.
	DownloadPrefix  string
	CleanupInterval time.Duration
}

// TranscriptDownload is a resolved, opened transcript file.
type TranscriptDownload struct {
	File      *os.File
	Filename  string
	Format    models.TranscriptFormat
	ExpiresAt time.Time
}

// TranscriptService manages chat transcript export jobs.
type TranscriptService struct {
	repo      transcriptStore
	access    accessAuthorizer
	queue     transcriptDispatcher
	files     fileStore
	signer    urlSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       TranscriptServiceConfig
}

// NewTranscriptService constructs the service. queue may be set later via SetQueue.
func NewTranscriptService(repo transcriptStore, access accessAuthorizer, queue transcriptDispatcher, files fileStore, signer urlSigner, validate *validator.Validate, logger *zap.Logger, cfg TranscriptServiceConfig) *TranscriptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	cfg.DownloadPrefix = strings.TrimRight(cfg.DownloadPrefix, "/")
	return &TranscriptService{
		repo:      repo,
		access:    access,
		queue:     queue,
		files:     files,
		signer:    signer,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// SetQueue attaches the dispatcher; the queue and its worker reference each other.
func (s *TranscriptService) SetQueue(queue transcriptDispatcher) {
	s.queue = queue
}

// CreateJob queues an export of subjectID's chat. Only the subject's teacher may export.
func (s *TranscriptService) CreateJob(ctx context.Context, identity models.Identity, subjectID string, req dto.TranscriptRequest) (*dto.TranscriptJobResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}
	if identity.Role != models.ChatRoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrAccessDenied, "only the subject teacher can export transcripts")
	}
	if err := s.access.Authorize(ctx, identity, subjectID); err != nil {
		return nil, err
	}

	job := &models.TranscriptJob{
		SubjectID: subjectID,
		Format:    req.Format,
		Status:    models.TranscriptStatusQueued,
		CreatedBy: identity.UserID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Unavailable(err)
	}
	if err := s.enqueue(job.ID); err != nil {
		s.markFailed(ctx, job.ID, "failed to enqueue job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue transcript job")
	}
	return &dto.TranscriptJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus returns a job's progress to the teacher who requested it.
func (s *TranscriptService) GetStatus(ctx context.Context, identity models.Identity, id string) (*dto.TranscriptStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
		return nil, appErrors.Unavailable(err)
	}
	if job.CreatedBy != identity.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "transcript belongs to another user")
	}
	resp := &dto.TranscriptStatusResponse{
		ID:           job.ID,
		SubjectID:    job.SubjectID,
		Format:       job.Format,
		Status:       job.Status,
		Progress:     job.Progress,
		MessageCount: job.MessageCount,
		ResultURL:    job.ResultURL,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload validates a signed token and opens the stored file.
func (s *TranscriptService) ResolveDownload(ctx context.Context, token string) (*TranscriptDownload, error) {
	grant, err := s.signer.Verify(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, grant.JobID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
		return nil, appErrors.Unavailable(err)
	}
	if job.Status != models.TranscriptStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "transcript not ready")
	}
	if job.FilePath == nil || *job.FilePath != grant.Path {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.files.Open(grant.Path)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "transcript file expired")
	}
	return &TranscriptDownload{
		File:      file,
		Filename:  path.Base(grant.Path),
		Format:    job.Format,
		ExpiresAt: grant.ExpiresAt,
	}, nil
}

// RecoverPendingJobs replays jobs left queued or in progress by a previous process.
func (s *TranscriptService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued transcript jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.enqueue(job.ID); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending transcript", "job_id", job.ID, "error", err)
		}
	}
}

// RunCleanup purges expired transcript files until ctx is cancelled.
func (s *TranscriptService) RunCleanup(ctx context.Context) error {
	if s.cfg.CleanupInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.cleanupExpired(ctx)
		}
	}
}

func (s *TranscriptService) cleanupExpired(ctx context.Context) {
	ttl := s.signer.TTL()
	expired, err := s.repo.ListFinishedBefore(ctx, time.Now().Add(-ttl), 100)
	if err != nil {
		s.logger.Sugar().Warnw("transcript cleanup list failed", "error", err)
		return
	}
	for _, job := range expired {
		if job.FilePath == nil || *job.FilePath == "" {
			continue
		}
		if err := s.files.Delete(*job.FilePath); err != nil {
			s.logger.Sugar().Warnw("transcript cleanup delete failed", "job_id", job.ID, "error", err)
			continue
		}
		cleared := ""
		if err := s.repo.Update(ctx, job.ID, repository.TranscriptUpdate{FilePath: &cleared, ResultURL: &cleared}); err != nil {
			s.logger.Sugar().Warnw("transcript cleanup update failed", "job_id", job.ID, "error", err)
		}
	}
	if _, err := s.files.CleanupOlderThan(ttl); err != nil {
		s.logger.Sugar().Warnw("transcript filesystem cleanup failed", "error", err)
	}
}

func (s *TranscriptService) enqueue(id string) error {
	if s.queue == nil {
		return fmt.Errorf("transcript queue not configured")
	}
	return s.queue.Enqueue(jobs.Job[string]{ID: id, Payload: id})
}

func (s *TranscriptService) markFailed(ctx context.Context, id, msg string) {
	failed := models.TranscriptStatusFailed
	progress := 100
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, id, repository.TranscriptUpdate{
		Status:       &failed,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Sugar().Warnw("failed to mark transcript failed", "job_id", id, "error", err)
	}
}

// TranscriptWorker renders queued transcript jobs.
type TranscriptWorker struct {
	repo           transcriptStore
	subjects       subjectFinder
	history        historyReader
	files          fileStore
	signer         urlSigner
	metrics        *MetricsService
	logger         *zap.Logger
	downloadPrefix string
}

// NewTranscriptWorker constructs a worker.
func NewTranscriptWorker(repo transcriptStore, subjects subjectFinder, history historyReader, files fileStore, signer urlSigner, downloadPrefix string, metrics *MetricsService, logger *zap.Logger) *TranscriptWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptWorker{
		repo:           repo,
		subjects:       subjects,
		history:        history,
		files:          files,
		signer:         signer,
		metrics:        metrics,
		logger:         logger,
		downloadPrefix: strings.TrimRight(downloadPrefix, "/"),
	}
}

// Handle processes one queued job. A returned error lets the queue retry it.
func (w *TranscriptWorker) Handle(ctx context.Context, job jobs.Job[string]) error {
	record, err := w.repo.GetByID(ctx, job.Payload)
	if err != nil {
		return err
	}
	if record.Status == models.TranscriptStatusFinished || record.Status == models.TranscriptStatusFailed {
		return nil
	}

	processing := models.TranscriptStatusProcessing
	progress := 10
	if err := w.repo.Update(ctx, record.ID, repository.TranscriptUpdate{Status: &processing, Progress: &progress}); err != nil {
		return err
	}

	filePath, count, err := w.render(ctx, record)
	if err != nil {
		queued := models.TranscriptStatusQueued
		reset := 0
		msg := err.Error()
		if updateErr := w.repo.Update(ctx, record.ID, repository.TranscriptUpdate{Status: &queued, Progress: &reset, ErrorMessage: &msg}); updateErr != nil {
			w.logger.Sugar().Warnw("failed to requeue transcript", "job_id", record.ID, "error", updateErr)
		}
		return err
	}

	token, _, err := w.signer.Sign(record.ID, filePath)
	if err != nil {
		return err
	}
	finished := models.TranscriptStatusFinished
	progress = 100
	now := time.Now().UTC()
	url := w.downloadPrefix + "/" + token
	cleared := ""
	if err := w.repo.Update(ctx, record.ID, repository.TranscriptUpdate{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &url,
		FilePath:     &filePath,
		MessageCount: &count,
		ErrorMessage: &cleared,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark transcript finished", "job_id", record.ID, "error", err)
		return err
	}
	w.metrics.IncTranscript(string(record.Format), string(finished))
	return nil
}

// GiveUp marks a job failed once the queue stops retrying it.
func (w *TranscriptWorker) GiveUp(ctx context.Context, job jobs.Job[string], cause error) {
	failed := models.TranscriptStatusFailed
	progress := 100
	now := time.Now().UTC()
	msg := cause.Error()
	if err := w.repo.Update(ctx, job.Payload, repository.TranscriptUpdate{
		Status:       &failed,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark transcript failed", "job_id", job.Payload, "error", err)
	}
	format := "unknown"
	if record, err := w.repo.GetByID(ctx, job.Payload); err == nil {
		format = string(record.Format)
	}
	w.metrics.IncTranscript(format, string(failed))
}

func (w *TranscriptWorker) render(ctx context.Context, record *models.TranscriptJob) (string, int, error) {
	title := "Subject " + record.SubjectID
	if subject, err := w.subjects.FindByID(ctx, record.SubjectID); err == nil && subject.Name != "" {
		title = subject.Name
	} else if err != nil && !errors.Is(err, appErrors.ErrNotFound) {
		return "", 0, err
	}

	messages, err := w.history.History(ctx, record.SubjectID)
	if err != nil {
		return "", 0, err
	}
	table := transcriptTable(title, messages)

	var data []byte
	switch record.Format {
	case models.TranscriptFormatCSV:
		data, err = export.CSV(table)
	case models.TranscriptFormatPDF:
		data, err = export.PDF(table)
	default:
		return "", 0, fmt.Errorf("unsupported transcript format %q", record.Format)
	}
	if err != nil {
		return "", 0, err
	}

	name := fmt.Sprintf("transcripts/%s/%s.%s", safeSegment(record.SubjectID), record.ID, record.Format)
	saved, err := w.files.Save(name, data)
	if err != nil {
		return "", 0, err
	}
	return saved, len(messages), nil
}

func transcriptTable(title string, messages []models.ChatMessage) export.Table {
	rows := make([][]string, 0, len(messages))
	for _, m := range messages {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			m.CreatedAt.UTC().Format(time.RFC3339),
			m.AuthorName,
			string(m.AuthorRole),
			m.Body,
		})
	}
	return export.Table{
		Title:   title + " chat transcript",
		Headers: []string{"#", "Time (UTC)", "Author", "Role", "Message"},
		Widths:  []float64{1, 3, 3, 1.5, 10},
		Rows:    rows,
	}
}

func safeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
