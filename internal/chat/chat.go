// Package chat stores conversations and assembles the model-facing history.
package chat

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("chat not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
)

// Attachment types as sent by clients and produced by tools.
const (
	AttachmentImage = "image"
	AttachmentFile  = "file"
	AttachmentVideo = "video"
	AttachmentAudio = "audio"
)

type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type Chat struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Message struct {
	ID          string         `json:"id"`
	ChatID      string         `json:"chat_id"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	Model       string         `json:"model"`
	Status      string         `json:"status"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolIDs     []string       `json:"tool_ids,omitempty"`
	MetaData    map[string]any `json:"meta_data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MessageUpdate finalizes a placeholder assistant message. Nil slices and
// maps leave the stored value untouched.
type MessageUpdate struct {
	Content     string
	Status      string
	Attachments []Attachment
	ToolIDs     []string
	MetaData    map[string]any
}

type Store interface {
	// GetChat returns the chat only when it belongs to userID.
	GetChat(ctx context.Context, id, userID string) (*Chat, error)
	CreateChat(ctx context.Context, userID, title string) (*Chat, error)
	// AddMessage inserts m, fills ID and CreatedAt and bumps the chat's
	// last_message_at.
	AddMessage(ctx context.Context, m *Message) error
	UpdateMessage(ctx context.Context, id string, upd MessageUpdate) error
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, chatID string, limit int) ([]*Message, error)
}
