package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	chats    map[string]*Chat
	messages []*Message
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats: make(map[string]*Chat),
		now:   time.Now,
	}
}

func (s *MemoryStore) GetChat(_ context.Context, id, userID string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (s *MemoryStore) CreateChat(_ context.Context, userID, title string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Chat{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: s.now()}
	s.chats[c.ID] = c
	clone := *c
	return &clone, nil
}

func (s *MemoryStore) AddMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[m.ChatID]
	if !ok {
		return ErrNotFound
	}
	m.ID = uuid.NewString()
	m.CreatedAt = s.now()
	ts := m.CreatedAt
	c.LastMessageAt = &ts
	clone := *m
	s.messages = append(s.messages, &clone)
	return nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, id string, upd MessageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID != id {
			continue
		}
		m.Content = upd.Content
		m.Status = upd.Status
		if len(upd.Attachments) > 0 {
			m.Attachments = upd.Attachments
		}
		if len(upd.ToolIDs) > 0 {
			m.ToolIDs = upd.ToolIDs
		}
		if len(upd.MetaData) > 0 {
			m.MetaData = upd.MetaData
		}
		return nil
	}
	return fmt.Errorf("message %s: %w", id, ErrNotFound)
}

// RecentMessages walks insertion order backwards, which matches created_at
// order for this store.
func (s *MemoryStore) RecentMessages(_ context.Context, chatID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].ChatID == chatID {
			clone := *s.messages[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

// Messages returns every message of a chat in insertion order.
func (s *MemoryStore) Messages(chatID string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out
}

// Chats returns every chat owned by userID.
func (s *MemoryStore) Chats(userID string) []*Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Chat
	for _, c := range s.chats {
		if c.UserID == userID {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out
}
