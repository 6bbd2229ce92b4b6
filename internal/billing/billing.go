// Package billing tracks per-user request quotas on subscriptions.
package billing

import (
	"context"
	"errors"
	"time"
)

var ErrNoActiveSubscription = errors.New("no active subscription")

// TariffFree is the only tariff that does not earn premium queue priority.
const TariffFree = "FREE"

type Subscription struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Tariff     string     `json:"tariff"`
	ReqMax     int        `json:"req_max"` // 0 means unlimited
	ReqUsed    int        `json:"req_used"`
	Active     bool       `json:"active"`
	ExpireDate *time.Time `json:"expire_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// WithinLimits reports whether one more request fits the quota.
func (s *Subscription) WithinLimits() bool {
	return s.Active && (s.ReqMax == 0 || s.ReqUsed < s.ReqMax)
}

func (s *Subscription) Premium() bool {
	return s.Active && s.Tariff != TariffFree
}

type Usage struct {
	ReqUsed int  `json:"req_used"`
	ReqMax  int  `json:"req_max"`
	Active  bool `json:"active"`
	Premium bool `json:"premium"`
}

type Store interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	// Active returns the user's active subscription or ErrNoActiveSubscription.
	Active(ctx context.Context, userID string) (*Subscription, error)
	// IncrementUsage counts one served request. It fails with
	// ErrNoActiveSubscription when no row was updated.
	IncrementUsage(ctx context.Context, userID string) error
	// ResetUsage zeroes req_used on every active subscription.
	ResetUsage(ctx context.Context) (int64, error)
}

// CheckLimits reports whether userID may submit another request.
func CheckLimits(ctx context.Context, s Store, userID string) (bool, error) {
	sub, err := s.Active(ctx, userID)
	if errors.Is(err, ErrNoActiveSubscription) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.WithinLimits(), nil
}

// IsPremium reports whether userID's requests go to the premium queue.
func IsPremium(ctx context.Context, s Store, userID string) (bool, error) {
	sub, err := s.Active(ctx, userID)
	if errors.Is(err, ErrNoActiveSubscription) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.Premium(), nil
}

// GetUsage summarizes the active subscription; users without one get a
// zero, inactive summary.
func GetUsage(ctx context.Context, s Store, userID string) (*Usage, error) {
	sub, err := s.Active(ctx, userID)
	if errors.Is(err, ErrNoActiveSubscription) {
		return &Usage{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Usage{
		ReqUsed: sub.ReqUsed,
		ReqMax:  sub.ReqMax,
		Active:  sub.Active,
		Premium: sub.Premium(),
	}, nil
}
