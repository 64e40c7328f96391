package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migration is one forward-only schema change owned by the chat service.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Migrations lists the chat tables in application order. Subjects, students and
// teachers belong to the surrounding school schema and are never created here.
var Migrations = []Migration{
	{
		Version:     "0001",
		Description: "chat messages",
		SQL: `CREATE TABLE IF NOT EXISTS chat_messages (
	id BIGSERIAL PRIMARY KEY,
	subject_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	author_name TEXT NOT NULL,
	author_role TEXT NOT NULL CHECK (author_role IN ('teacher', 'student')),
	body TEXT NOT NULL CHECK (btrim(body) <> ''),
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_subject_order ON chat_messages (subject_id, created_at, id);`,
	},
	{
		Version:     "0002",
		Description: "chat messages are append-only",
		SQL: `CREATE OR REPLACE FUNCTION chat_messages_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'chat_messages is append-only';
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS trg_chat_messages_append_only ON chat_messages;
CREATE TRIGGER trg_chat_messages_append_only BEFORE UPDATE OR DELETE ON chat_messages
	FOR EACH ROW EXECUTE FUNCTION chat_messages_append_only();`,
	},
	{
		Version:     "0003",
		Description: "chat transcript jobs",
		SQL: `CREATE TABLE IF NOT EXISTS chat_transcript_jobs (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	format TEXT NOT NULL CHECK (format IN ('csv', 'pdf')),
	status TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	result_url TEXT,
	file_path TEXT,
	message_count INT NOT NULL DEFAULT 0,
	error_message TEXT,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_chat_transcript_jobs_status ON chat_transcript_jobs (status, created_at);`,
	},
}

// Migrate applies every migration not yet recorded in schema_migrations, each in its own transaction.
func Migrate(ctx context.Context, db *sqlx.DB, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	if err := db.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	done := make(map[string]struct{}, len(applied))
	for _, v := range applied {
		done[v] = struct{}{}
	}

	for _, m := range migrations {
		if _, ok := done[m.Version]; ok {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sqlx.DB, m Migration) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`, m.Version, m.Description); err != nil {
		return err
	}
	return tx.Commit()
}
