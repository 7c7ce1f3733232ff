// internal/archive/postgres.go

package archive

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/taskchat/syncd/internal/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS archived_messages (
    id              BIGINT PRIMARY KEY,
    conversation_id BIGINT NOT NULL,
    sender_id       BIGINT NOT NULL,
    content         TEXT NOT NULL DEFAULT '',
    is_edited       BOOLEAN NOT NULL DEFAULT FALSE,
    is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archived_messages_conversation
    ON archived_messages (conversation_id, created_at);
`

type postgresArchiver struct {
	db *sqlx.DB
}

// NewPostgresArchiver opens the archive database and ensures the schema
func NewPostgresArchiver(dsn string) (Archiver, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure archive schema: %w", err)
	}

	return &postgresArchiver{db: db}, nil
}

// SaveMessage upserts one server-confirmed message by id. Edits simply
// overwrite; deletes arrive separately as tombstones.
func (a *postgresArchiver) SaveMessage(ctx context.Context, message *chat.Message) error {
	query := `
        INSERT INTO archived_messages (
            id, conversation_id, sender_id, content, is_edited, is_deleted, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            content = EXCLUDED.content,
            is_edited = EXCLUDED.is_edited,
            is_deleted = EXCLUDED.is_deleted`

	_, err := a.db.ExecContext(
		ctx, query,
		message.ID, message.ConversationID, message.SenderID,
		message.Content, message.IsEdited, message.IsDeleted,
		message.CreatedAt,
	)
	return err
}

// TombstoneMessage marks an archived message deleted and clears its
// content. The row stays in sequence, mirroring the live view.
func (a *postgresArchiver) TombstoneMessage(ctx context.Context, messageID int64) error {
	query := `
        UPDATE archived_messages
        SET is_deleted = TRUE, content = ''
        WHERE id = $1`

	_, err := a.db.ExecContext(ctx, query, messageID)
	return err
}

// SearchMessages runs a simple substring search over live content
func (a *postgresArchiver) SearchMessages(ctx context.Context, query string, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	sqlQuery := `
        SELECT id, conversation_id, sender_id, content, is_edited, is_deleted, created_at
        FROM archived_messages
        WHERE is_deleted = FALSE AND content ILIKE '%' || $1 || '%'
        ORDER BY created_at DESC
        LIMIT $2`

	rows, err := a.db.QueryContext(ctx, sqlQuery, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		var msg chat.Message
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID,
			&msg.Content, &msg.IsEdited, &msg.IsDeleted, &msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

func (a *postgresArchiver) Close() error {
	return a.db.Close()
}
