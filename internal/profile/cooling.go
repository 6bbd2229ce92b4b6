package profile

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// daysPerMonth converts months of saving into a waiting period.
const daysPerMonth = 30

type CoolingAnalysis struct {
	Blacklisted    bool
	CoolingDays    int
	SavingsDays    int
	TotalDays      int
	AvailableDate  *time.Time
	Recommendation string
}

// CalculateCooling decides how long the user should wait before buying.
// The wait is the longer of the price-band cooling period and the time needed
// to save enough that at least half of current savings survive the purchase.
func CalculateCooling(u *User, price int64, category string, now time.Time) CoolingAnalysis {
	if isBlacklisted(u.Blacklist, category) {
		return CoolingAnalysis{
			Blacklisted:    true,
			Recommendation: "this category is blacklisted, consider skipping the purchase",
		}
	}

	var a CoolingAnalysis
	for _, r := range u.CoolingRanges {
		if r.MinAmount <= price && price <= r.MaxAmount {
			a.CoolingDays = r.Days
			break
		}
	}

	if u.MonthlySavings > 0 {
		var needed int64
		switch {
		case u.CurrentSavings < price:
			needed = price - u.CurrentSavings
		case u.CurrentSavings-price < u.CurrentSavings/2:
			needed = price - u.CurrentSavings/2
		}
		if needed > 0 {
			months := (needed + u.MonthlySavings - 1) / u.MonthlySavings
			a.SavingsDays = int(months) * daysPerMonth
		}
	}

	a.TotalDays = max(a.CoolingDays, a.SavingsDays)
	if a.TotalDays > 0 {
		d := now.AddDate(0, 0, a.TotalDays)
		a.AvailableDate = &d
	}

	switch {
	case a.TotalDays == 0:
		a.Recommendation = "can buy now"
	case a.TotalDays <= 7:
		a.Recommendation = fmt.Sprintf("wait %d days", a.TotalDays)
	default:
		a.Recommendation = fmt.Sprintf("wait %d days (%d weeks)", a.TotalDays, a.TotalDays/7)
	}
	return a
}

func isBlacklisted(list []string, category string) bool {
	c := strings.ToLower(strings.TrimSpace(category))
	for _, b := range list {
		if strings.ToLower(strings.TrimSpace(b)) == c {
			return true
		}
	}
	return false
}

// NewPurchase is what the assistant extracted from the conversation.
type NewPurchase struct {
	Name     string
	Price    int64
	Category string
	URL      string
}

// Service layers the cooling rules over a Store.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) Store() Store { return s.store }

// AddPurchase records a pending purchase with its computed cooling period.
func (s *Service) AddPurchase(ctx context.Context, userID, chatID string, np NewPurchase) (*Purchase, CoolingAnalysis, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, CoolingAnalysis{}, err
	}

	analysis := CalculateCooling(u, np.Price, np.Category, s.now().UTC())
	p := &Purchase{
		UserID:        userID,
		ChatID:        chatID,
		Name:          np.Name,
		Price:         np.Price,
		Category:      np.Category,
		URL:           np.URL,
		Status:        PurchasePending,
		CoolingDays:   analysis.TotalDays,
		AvailableDate: analysis.AvailableDate,
	}
	if err := s.store.CreatePurchase(ctx, p); err != nil {
		return nil, CoolingAnalysis{}, err
	}
	return p, analysis, nil
}
