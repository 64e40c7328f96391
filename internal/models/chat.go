package models

import "time"

// Subject is the teaching unit a chat room belongs to. Read-only for this service.
type Subject struct {
	ID                    string  `db:"id" json:"id"`
	Name                  string  `db:"name" json:"name"`
	AcademicCombinationID string  `db:"academic_combination_id" json:"academicCombinationId"`
	TeacherID             *string `db:"teacher_id" json:"teacherId,omitempty"`
}

// ChatMessage is one entry of a subject's append-only chat log.
type ChatMessage struct {
	ID         int64     `db:"id" json:"chatId"`
	SubjectID  string    `db:"subject_id" json:"subjectId"`
	AuthorID   string    `db:"author_id" json:"authorId"`
	AuthorName string    `db:"author_name" json:"authorName"`
	AuthorRole ChatRole  `db:"author_role" json:"authorRole"`
	Body       string    `db:"body" json:"body"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Participant is a roster entry of a subject: its teacher or an enrolled student.
type Participant struct {
	ID    string   `db:"id" json:"id"`
	Name  string   `db:"name" json:"name"`
	Role  ChatRole `db:"role" json:"role"`
	Email string   `db:"email" json:"email"`
}
