package profile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]*User
	purchases []*Purchase
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func cloneUser(u *User) *User {
	c := *u
	c.Blacklist = append([]string(nil), u.Blacklist...)
	c.CoolingRanges = append([]CoolingRange(nil), u.CoolingRanges...)
	return &c
}

func (s *MemoryStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now()
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) UpdateSavings(_ context.Context, id string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, ErrNotFound
	}
	prev := u.CurrentSavings
	u.CurrentSavings = amount
	return prev, nil
}

func (s *MemoryStore) AddToBlacklist(_ context.Context, id string, category string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if isBlacklisted(u.Blacklist, category) {
		return nil, ErrAlreadyBlacklisted
	}
	u.Blacklist = append(u.Blacklist, category)
	return append([]string(nil), u.Blacklist...), nil
}

func (s *MemoryStore) CreatePurchase(_ context.Context, p *Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.UserID]; !ok {
		return ErrNotFound
	}
	if p.Status == "" {
		p.Status = PurchasePending
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now()
	c := *p
	s.purchases = append(s.purchases, &c)
	return nil
}

func (s *MemoryStore) ChatPurchases(_ context.Context, chatID, userID string) ([]*Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Purchase
	for i := len(s.purchases) - 1; i >= 0; i-- {
		p := s.purchases[i]
		if p.ChatID != chatID || p.UserID != userID || p.Status == PurchaseCancelled {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
