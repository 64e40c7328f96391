package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// AccessRepository answers the two membership questions behind chat authorization.
// Both lookups hit the subjects primary key plus one indexed column.
type AccessRepository struct {
	db *sqlx.DB
}

// NewAccessRepository constructs the repository.
func NewAccessRepository(db *sqlx.DB) *AccessRepository {
	return &AccessRepository{db: db}
}

// TeacherOwnsSubject reports whether teacherID is the subject's assigned teacher.
// An unknown subject yields false.
func (r *AccessRepository) TeacherOwnsSubject(ctx context.Context, teacherID, subjectID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM subjects WHERE id = $1 AND teacher_id = $2)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, subjectID, teacherID); err != nil {
		return false, fmt.Errorf("check subject teacher: %w", err)
	}
	return ok, nil
}

// StudentEnrolledInSubject reports whether the student belongs to the academic
// combination the subject is offered in. An unknown subject yields false.
func (r *AccessRepository) StudentEnrolledInSubject(ctx context.Context, studentID, subjectID string) (bool, error) {
	const query = `SELECT EXISTS (
	SELECT 1 FROM subjects s
	JOIN students st ON st.academic_combination_id = s.academic_combination_id
	WHERE s.id = $1 AND st.id = $2
)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, subjectID, studentID); err != nil {
		return false, fmt.Errorf("check student enrollment: %w", err)
	}
	return ok, nil
}
