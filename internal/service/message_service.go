package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
)

// DefaultMaxMessageLength bounds a message body in runes when no limit is configured.
const DefaultMaxMessageLength = 2000

type chatMessageStore interface {
	Append(ctx context.Context, msg *models.ChatMessage) error
	History(ctx context.Context, subjectID string) ([]models.ChatMessage, error)
	HistoryAfter(ctx context.Context, subjectID string, afterID int64) ([]models.ChatMessage, error)
}

// MessageService validates and persists chat messages. It never broadcasts.
type MessageService struct {
	store     chatMessageStore
	metrics   *MetricsService
	logger    *zap.Logger
	maxLength int
}

// NewMessageService constructs the service.
func NewMessageService(store chatMessageStore, maxLength int, metrics *MetricsService, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &MessageService{store: store, metrics: metrics, logger: logger, maxLength: maxLength}
}

// Append stores body as authored by author in subjectID and returns the stored
// record with its database-assigned id and timestamp.
func (s *MessageService) Append(ctx context.Context, subjectID string, author models.Identity, body string) (*models.ChatMessage, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subjectId is required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message must not be empty")
	}
	if utf8.RuneCountInString(body) > s.maxLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("message exceeds %d characters", s.maxLength))
	}
	if !author.Role.Valid() || author.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "author must be a teacher or a student")
	}

	msg := &models.ChatMessage{
		SubjectID:  subjectID,
		AuthorID:   author.UserID,
		AuthorName: author.Name,
		AuthorRole: author.Role,
		Body:       body,
	}
	start := time.Now()
	err := s.store.Append(ctx, msg)
	s.metrics.ObserveDBQuery("chat_append", time.Since(start))
	if err != nil {
		s.logger.Sugar().Warnw("chat append failed", "subject_id", subjectID, "author_id", author.UserID, "error", err)
		return nil, appErrors.Unavailable(err)
	}
	s.metrics.IncChatMessage(string(author.Role))
	return msg, nil
}

// History returns every message of subjectID in commit order.
func (s *MessageService) History(ctx context.Context, subjectID string) ([]models.ChatMessage, error) {
	start := time.Now()
	messages, err := s.store.History(ctx, subjectID)
	s.metrics.ObserveDBQuery("chat_history", time.Since(start))
	if err != nil {
		return nil, appErrors.Unavailable(err)
	}
	return messages, nil
}

// HistoryAfter returns the messages of subjectID stored after afterID.
func (s *MessageService) HistoryAfter(ctx context.Context, subjectID string, afterID int64) ([]models.ChatMessage, error) {
	if afterID <= 0 {
		return s.History(ctx, subjectID)
	}
	start := time.Now()
	messages, err := s.store.HistoryAfter(ctx, subjectID, afterID)
	s.metrics.ObserveDBQuery("chat_history_after", time.Since(start))
	if err != nil {
		return nil, appErrors.Unavailable(err)
	}
	return messages, nil
}
