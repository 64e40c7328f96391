package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classlinker-chat/internal/models"
)

// ParticipantRepository reads a subject's roster.
type ParticipantRepository struct {
	db *sqlx.DB
}

// NewParticipantRepository constructs the repository.
func NewParticipantRepository(db *sqlx.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// ListBySubject returns the assigned teacher (if any) followed by every enrolled student.
func (r *ParticipantRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.Participant, error) {
	const query = `SELECT id, name, role, email FROM (
	SELECT t.id, t.full_name AS name, 'teacher' AS role, COALESCE(t.email, '') AS email, 0 AS rank
	FROM subjects s
	JOIN teachers t ON t.id = s.teacher_id
	WHERE s.id = $1
	UNION ALL
	SELECT st.id, st.full_name AS name, 'student' AS role, COALESCE(st.email, '') AS email, 1 AS rank
	FROM subjects s
	JOIN students st ON st.academic_combination_id = s.academic_combination_id
	WHERE s.id = $1
) roster
ORDER BY rank ASC, name ASC, id ASC`
	participants := make([]models.Participant, 0)
	if err := r.db.SelectContext(ctx, &participants, query, subjectID); err != nil {
		return nil, fmt.Errorf("list subject participants: %w", err)
	}
	return participants, nil
}
