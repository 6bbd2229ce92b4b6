package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	subs []*Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ID = uuid.NewString()
	sub.CreatedAt = time.Now()
	c := *sub
	s.subs = append(s.subs, &c)
	return nil
}

func (s *MemoryStore) active(userID string) *Subscription {
	for i := len(s.subs) - 1; i >= 0; i-- {
		if s.subs[i].UserID == userID && s.subs[i].Active {
			return s.subs[i]
		}
	}
	return nil
}

func (s *MemoryStore) Active(_ context.Context, userID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.active(userID)
	if sub == nil {
		return nil, ErrNoActiveSubscription
	}
	c := *sub
	return &c, nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.Active {
			sub.ReqUsed++
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("usage not updated for user %s: %w", userID, ErrNoActiveSubscription)
	}
	return nil
}

func (s *MemoryStore) ResetUsage(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sub := range s.subs {
		if sub.Active {
			sub.ReqUsed = 0
			n++
		}
	}
	return n, nil
}
