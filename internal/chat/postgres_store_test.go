package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewPostgresStore(mock)
}

func TestPostgresStore_GetChat_ChecksOwner(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM chats").
		WithArgs("chat-1", "intruder").
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.GetChat(context.Background(), "chat-1", "intruder"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_CreateChat(t *testing.T) {
	mock, store := newMockStore(t)
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO chats").
		WithArgs("user-1", "Budget talk").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("chat-1", created))

	c, err := store.CreateChat(context.Background(), "user-1", "Budget talk")
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	if c.ID != "chat-1" || c.Title != "Budget talk" || c.UserID != "user-1" {
		t.Errorf("Unexpected chat: %+v", c)
	}
}

func TestPostgresStore_AddMessage(t *testing.T) {
	mock, store := newMockStore(t)
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs("chat-1", RoleUser, "hello", "gemini-2.5-flash-lite", StatusCompleted, []byte(`[{"type":"image","url":"x"}]`)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("msg-1", created))

	m := &Message{
		ChatID:      "chat-1",
		Role:        RoleUser,
		Content:     "hello",
		Model:       "gemini-2.5-flash-lite",
		Status:      StatusCompleted,
		Attachments: []Attachment{{Type: AttachmentImage, URL: "x"}},
	}
	if err := store.AddMessage(context.Background(), m); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if m.ID != "msg-1" {
		t.Errorf("Expected msg-1, got %s", m.ID)
	}
}

func TestPostgresStore_UpdateMessage(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE messages").
		WithArgs("msg-1", "answer", StatusCompleted, []byte(nil), []byte(`["add_purchase"]`), []byte(`{"tools":["x"]}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateMessage(context.Background(), "msg-1", MessageUpdate{
		Content:  "answer",
		Status:   StatusCompleted,
		ToolIDs:  []string{"add_purchase"},
		MetaData: map[string]any{"tools": []string{"x"}},
	})
	if err != nil {
		t.Fatalf("UpdateMessage failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_UpdateMessage_NotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE messages").
		WithArgs("missing", "x", StatusCompleted, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateMessage(context.Background(), "missing", MessageUpdate{Content: "x", Status: StatusCompleted})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_RecentMessages(t *testing.T) {
	mock, store := newMockStore(t)
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "chat_id", "role", "content", "model", "status", "attachments", "created_at"}
	mock.ExpectQuery("SELECT (.+) FROM messages").
		WithArgs("chat-1", DefaultHistoryLimit).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("m2", "chat-1", RoleAssistant, "hi", "m", StatusCompleted, []byte(nil), now.Add(time.Second)).
			AddRow("m1", "chat-1", RoleUser, "hello", "m", StatusCompleted, []byte(`[{"type":"audio","url":"a"}]`), now))

	msgs, err := store.RecentMessages(context.Background(), "chat-1", DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m2" {
		t.Fatalf("Expected newest first, got %+v", msgs)
	}
	if len(msgs[1].Attachments) != 1 || msgs[1].Attachments[0].Type != AttachmentAudio {
		t.Errorf("Expected decoded attachment, got %+v", msgs[1].Attachments)
	}
}
