// Package profile stores the user's financial profile and the purchases the
// assistant tracks on their behalf.
package profile

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrAlreadyBlacklisted = errors.New("category already blacklisted")
)

// CoolingRange maps a price band to a mandatory waiting period.
type CoolingRange struct {
	MinAmount int64 `json:"min_amount"`
	MaxAmount int64 `json:"max_amount"`
	Days      int   `json:"days"`
}

type User struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	MonthlySalary  int64          `json:"monthly_salary"`
	MonthlySavings int64          `json:"monthly_savings"`
	CurrentSavings int64          `json:"current_savings"`
	Blacklist      []string       `json:"blacklist"`
	CoolingRanges  []CoolingRange `json:"cooling_ranges"`
	CreatedAt      time.Time      `json:"created_at"`
}

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchasePurchased PurchaseStatus = "purchased"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

type Purchase struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	ChatID        string         `json:"chat_id"`
	Name          string         `json:"name"`
	Price         int64          `json:"price"`
	Category      string         `json:"category"`
	URL           string         `json:"url,omitempty"`
	Status        PurchaseStatus `json:"status"`
	CoolingDays   int            `json:"cooling_days"`
	AvailableDate *time.Time     `json:"available_date,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	// UpdateSavings sets current savings and returns the previous amount.
	UpdateSavings(ctx context.Context, id string, amount int64) (int64, error)
	// AddToBlacklist appends category unless a case-insensitive match exists,
	// and returns the resulting list.
	AddToBlacklist(ctx context.Context, id string, category string) ([]string, error)
	CreatePurchase(ctx context.Context, p *Purchase) error
	// ChatPurchases lists non-cancelled purchases of a chat, newest first.
	ChatPurchases(ctx context.Context, chatID, userID string) ([]*Purchase, error)
}
