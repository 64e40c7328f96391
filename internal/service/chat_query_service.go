package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classlinker-chat/internal/dto"
	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
)

type participantLister interface {
	ListBySubject(ctx context.Context, subjectID string) ([]models.Participant, error)
}

type onlineLister interface {
	Online(ctx context.Context, subjectID string) ([]string, error)
}

type historyReader interface {
	History(ctx context.Context, subjectID string) ([]models.ChatMessage, error)
	HistoryAfter(ctx context.Context, subjectID string, afterID int64) ([]models.ChatMessage, error)
}

type accessAuthorizer interface {
	Authorize(ctx context.Context, identity models.Identity, subjectID string) error
}

// ChatQueryService serves the request/response side of subject chat.
// Every call re-runs the access resolver.
type ChatQueryService struct {
	access       accessAuthorizer
	history      historyReader
	participants participantLister
	online       onlineLister
	metrics      *MetricsService
	logger       *zap.Logger
}

// NewChatQueryService constructs the service. online may be nil.
func NewChatQueryService(access accessAuthorizer, history historyReader, participants participantLister, online onlineLister, metrics *MetricsService, logger *zap.Logger) *ChatQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatQueryService{
		access:       access,
		history:      history,
		participants: participants,
		online:       online,
		metrics:      metrics,
		logger:       logger,
	}
}

// SetOnlineLister wires the presence source once the gateway exists.
func (s *ChatQueryService) SetOnlineLister(online onlineLister) {
	s.online = online
}

// GetHistory returns the subject's messages in commit order, optionally only
// those stored after afterID.
func (s *ChatQueryService) GetHistory(ctx context.Context, identity models.Identity, subjectID string, afterID int64) ([]models.ChatMessage, error) {
	if err := s.authorize(ctx, identity, subjectID, "history"); err != nil {
		return nil, err
	}
	if afterID > 0 {
		return s.history.HistoryAfter(ctx, subjectID, afterID)
	}
	return s.history.History(ctx, subjectID)
}

// GetParticipants returns the subject's roster: its teacher, if assigned, and every enrolled student.
func (s *ChatQueryService) GetParticipants(ctx context.Context, identity models.Identity, subjectID string) ([]models.Participant, error) {
	if err := s.authorize(ctx, identity, subjectID, "participants"); err != nil {
		return nil, err
	}
	start := time.Now()
	participants, err := s.participants.ListBySubject(ctx, subjectID)
	s.metrics.ObserveDBQuery("chat_participants", time.Since(start))
	if err != nil {
		return nil, appErrors.Unavailable(err)
	}
	return participants, nil
}

// GetOnline lists the users currently connected to the subject room.
func (s *ChatQueryService) GetOnline(ctx context.Context, identity models.Identity, subjectID string) (*dto.OnlineResponse, error) {
	if err := s.authorize(ctx, identity, subjectID, "online"); err != nil {
		return nil, err
	}
	resp := &dto.OnlineResponse{SubjectID: subjectID, UserIDs: []string{}}
	if s.online == nil {
		return resp, nil
	}
	users, err := s.online.Online(ctx, subjectID)
	if err != nil {
		s.logger.Sugar().Warnw("presence lookup failed", "subject_id", subjectID, "error", err)
		return nil, appErrors.Unavailable(err)
	}
	sort.Strings(users)
	if users != nil {
		resp.UserIDs = users
	}
	return resp, nil
}

func (s *ChatQueryService) authorize(ctx context.Context, identity models.Identity, subjectID, event string) error {
	err := s.access.Authorize(ctx, identity, subjectID)
	if err != nil && appErrors.FromError(err).Code == appErrors.ErrAccessDenied.Code {
		s.metrics.IncChatDenied(event)
	}
	return err
}
