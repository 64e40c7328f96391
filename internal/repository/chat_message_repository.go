package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classlinker-chat/internal/models"
)

const chatMessageColumns = `id, subject_id, author_id, author_name, author_role, body, created_at`

// ChatMessageRepository is the append-only chat log. It has no update or delete path.
type ChatMessageRepository struct {
	db *sqlx.DB
}

// NewChatMessageRepository constructs the repository.
func NewChatMessageRepository(db *sqlx.DB) *ChatMessageRepository {
	return &ChatMessageRepository{db: db}
}

// Append inserts msg in a single statement; the database assigns ID and CreatedAt.
func (r *ChatMessageRepository) Append(ctx context.Context, msg *models.ChatMessage) error {
	const query = `INSERT INTO chat_messages (subject_id, author_id, author_name, author_role, body)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`
	row := r.db.QueryRowxContext(ctx, query, msg.SubjectID, msg.AuthorID, msg.AuthorName, msg.AuthorRole, msg.Body)
	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

// History returns the full log of a subject in commit order.
func (r *ChatMessageRepository) History(ctx context.Context, subjectID string) ([]models.ChatMessage, error) {
	query := `SELECT ` + chatMessageColumns + ` FROM chat_messages
WHERE subject_id = $1
ORDER BY created_at ASC, id ASC`
	messages := make([]models.ChatMessage, 0)
	if err := r.db.SelectContext(ctx, &messages, query, subjectID); err != nil {
		return nil, fmt.Errorf("list chat history: %w", err)
	}
	return messages, nil
}

// HistoryAfter returns the messages ordered after afterID for reconnect backfill.
// The cursor is the (created_at, id) position of that message, matching the history
// order; an id unknown to the subject falls back to id > afterID.
func (r *ChatMessageRepository) HistoryAfter(ctx context.Context, subjectID string, afterID int64) ([]models.ChatMessage, error) {
	query := `WITH after_row AS (
	SELECT created_at, id FROM chat_messages WHERE subject_id = $1 AND id = $2
)
SELECT ` + chatMessageColumns + ` FROM chat_messages
WHERE subject_id = $1 AND (
	(created_at, id) > (SELECT created_at, id FROM after_row)
	OR (NOT EXISTS (SELECT 1 FROM after_row) AND id > $2)
)
ORDER BY created_at ASC, id ASC`
	messages := make([]models.ChatMessage, 0)
	if err := r.db.SelectContext(ctx, &messages, query, subjectID, afterID); err != nil {
		return nil, fmt.Errorf("list chat history after %d: %w", afterID, err)
	}
	return messages, nil
}
