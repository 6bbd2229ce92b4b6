package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetChat(ctx context.Context, id, userID string) (*Chat, error) {
	query := `
		SELECT id, user_id, title, last_message_at, created_at
		FROM chats
		WHERE id = $1 AND user_id = $2
	`
	var c Chat
	err := s.db.QueryRow(ctx, query, id, userID).Scan(&c.ID, &c.UserID, &c.Title, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	query := `
		INSERT INTO chats (user_id, title)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	c := &Chat{UserID: userID, Title: title}
	if err := s.db.QueryRow(ctx, query, userID, title).Scan(&c.ID, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, m *Message) error {
	attachments, err := encodeJSON(m.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	// The CTE keeps the message insert and the chat bump in one statement.
	query := `
		WITH inserted AS (
			INSERT INTO messages (chat_id, role, content, model, status, attachments)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, chat_id, created_at
		), bumped AS (
			UPDATE chats SET last_message_at = inserted.created_at
			FROM inserted WHERE chats.id = inserted.chat_id
		)
		SELECT id, created_at FROM inserted
	`
	err = s.db.QueryRow(ctx, query,
		m.ChatID, m.Role, m.Content, m.Model, m.Status, attachments,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, id string, upd MessageUpdate) error {
	attachments, err := encodeJSON(upd.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	toolIDs, err := encodeJSON(upd.ToolIDs)
	if err != nil {
		return fmt.Errorf("failed to encode tool ids: %w", err)
	}
	meta, err := encodeJSON(upd.MetaData)
	if err != nil {
		return fmt.Errorf("failed to encode meta data: %w", err)
	}

	query := `
		UPDATE messages
		SET content = $2,
			status = $3,
			attachments = COALESCE($4, attachments),
			tool_ids = COALESCE($5, tool_ids),
			meta_data = COALESCE($6, meta_data)
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, id, upd.Content, upd.Status, attachments, toolIDs, meta)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, chat_id, role, content, model, status, attachments, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m   Message
			raw []byte
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Model, &m.Status, &raw, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &m.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments: %w", err)
			}
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return out, nil
}

// encodeJSON returns nil for empty values so the column keeps SQL NULL or
// its previous value.
func encodeJSON[T any](v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	switch string(b) {
	case "null", "[]", "{}":
		return nil, nil
	}
	return b, nil
}
