package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
)

type subjectAccessLookup interface {
	TeacherOwnsSubject(ctx context.Context, teacherID, subjectID string) (bool, error)
	StudentEnrolledInSubject(ctx context.Context, studentID, subjectID string) (bool, error)
}

// accessPolicy answers the access question for one chat role.
type accessPolicy interface {
	allows(ctx context.Context, lookup subjectAccessLookup, userID, subjectID string) (bool, error)
}

type teacherPolicy struct{}

func (teacherPolicy) allows(ctx context.Context, lookup subjectAccessLookup, userID, subjectID string) (bool, error) {
	return lookup.TeacherOwnsSubject(ctx, userID, subjectID)
}

type studentPolicy struct{}

func (studentPolicy) allows(ctx context.Context, lookup subjectAccessLookup, userID, subjectID string) (bool, error) {
	return lookup.StudentEnrolledInSubject(ctx, userID, subjectID)
}

func policyFor(role models.ChatRole) (accessPolicy, bool) {
	switch role {
	case models.ChatRoleTeacher:
		return teacherPolicy{}, true
	case models.ChatRoleStudent:
		return studentPolicy{}, true
	default:
		return nil, false
	}
}

// AccessResolver decides whether an identity may read or write a subject's chat.
// Answers are never cached; every action asks again.
type AccessResolver struct {
	lookup  subjectAccessLookup
	metrics *MetricsService
	logger  *zap.Logger
}

// NewAccessResolver constructs the resolver.
func NewAccessResolver(lookup subjectAccessLookup, metrics *MetricsService, logger *zap.Logger) *AccessResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessResolver{lookup: lookup, metrics: metrics, logger: logger}
}

// CanAccess reports whether identity may use subjectID's chat. Unknown subjects and
// unknown roles yield false. A lookup fault yields false together with the error.
func (r *AccessResolver) CanAccess(ctx context.Context, identity models.Identity, subjectID string) (bool, error) {
	subjectID = strings.TrimSpace(subjectID)
	if identity.UserID == "" || subjectID == "" {
		return false, nil
	}
	policy, ok := policyFor(identity.Role)
	if !ok {
		return false, nil
	}

	start := time.Now()
	allowed, err := policy.allows(ctx, r.lookup, identity.UserID, subjectID)
	r.metrics.ObserveDBQuery("chat_access_"+string(identity.Role), time.Since(start))
	if err != nil {
		r.logger.Sugar().Warnw("access lookup failed", "user_id", identity.UserID, "subject_id", subjectID, "error", err)
		return false, fmt.Errorf("resolve access for %s: %w", subjectID, err)
	}
	return allowed, nil
}

// Authorize folds CanAccess into a single error: ACCESS_DENIED or STORE_UNAVAILABLE.
func (r *AccessResolver) Authorize(ctx context.Context, identity models.Identity, subjectID string) error {
	allowed, err := r.CanAccess(ctx, identity, subjectID)
	if err != nil {
		return appErrors.Unavailable(err)
	}
	if !allowed {
		return appErrors.ErrAccessDenied
	}
	return nil
}
