package profile

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

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	blacklist, err := json.Marshal(nonNil(u.Blacklist))
	if err != nil {
		return fmt.Errorf("failed to encode blacklist: %w", err)
	}
	ranges, err := json.Marshal(u.CoolingRanges)
	if err != nil {
		return fmt.Errorf("failed to encode cooling ranges: %w", err)
	}
	if u.CoolingRanges == nil {
		ranges = []byte("[]")
	}

	query := `
		INSERT INTO users (id, email, monthly_salary, monthly_savings, current_savings, blacklist, cooling_ranges)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = s.db.QueryRow(ctx, query,
		u.ID, u.Email, u.MonthlySalary, u.MonthlySavings, u.CurrentSavings, blacklist, ranges,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, email, monthly_salary, monthly_savings, current_savings, blacklist, cooling_ranges, created_at
		FROM users
		WHERE id = $1
	`
	var (
		u                 User
		blacklist, ranges []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.MonthlySalary, &u.MonthlySavings, &u.CurrentSavings,
		&blacklist, &ranges, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if err := decodeList(blacklist, &u.Blacklist); err != nil {
		return nil, fmt.Errorf("failed to decode blacklist: %w", err)
	}
	if err := decodeList(ranges, &u.CoolingRanges); err != nil {
		return nil, fmt.Errorf("failed to decode cooling ranges: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) UpdateSavings(ctx context.Context, id string, amount int64) (int64, error) {
	query := `
		UPDATE users u
		SET current_savings = $2
		FROM (SELECT current_savings FROM users WHERE id = $1 FOR UPDATE) old
		WHERE u.id = $1
		RETURNING old.current_savings
	`
	var previous int64
	if err := s.db.QueryRow(ctx, query, id, amount).Scan(&previous); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to update savings: %w", err)
	}
	return previous, nil
}

// AddToBlacklist does the duplicate check inside the UPDATE. When no row
// changes, a second lookup tells a missing user from a duplicate.
func (s *PostgresStore) AddToBlacklist(ctx context.Context, id string, category string) ([]string, error) {
	query := `
		UPDATE users
		SET blacklist = blacklist || to_jsonb($2::text)
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM jsonb_array_elements_text(blacklist) AS b(v)
			WHERE lower(trim(b.v)) = lower(trim($2))
		)
		RETURNING blacklist
	`
	var raw []byte
	err := s.db.QueryRow(ctx, query, id, category).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.GetUser(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrAlreadyBlacklisted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update blacklist: %w", err)
	}

	var list []string
	if err := decodeList(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode blacklist: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) CreatePurchase(ctx context.Context, p *Purchase) error {
	if p.Status == "" {
		p.Status = PurchasePending
	}
	query := `
		INSERT INTO purchases (user_id, chat_id, name, price, category, url, status, cooling_days, available_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		p.UserID, p.ChatID, p.Name, p.Price, p.Category, p.URL, p.Status, p.CoolingDays, p.AvailableDate,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

func (s *PostgresStore) ChatPurchases(ctx context.Context, chatID, userID string) ([]*Purchase, error) {
	query := `
		SELECT id, user_id, chat_id, name, price, category, url, status, cooling_days, available_date, created_at
		FROM purchases
		WHERE chat_id = $1 AND user_id = $2 AND status <> 'cancelled'
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var out []*Purchase
	for rows.Next() {
		var p Purchase
		err := rows.Scan(
			&p.ID, &p.UserID, &p.ChatID, &p.Name, &p.Price, &p.Category, &p.URL,
			&p.Status, &p.CoolingDays, &p.AvailableDate, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}
	return out, nil
}

func decodeList[T any](raw []byte, dst *[]T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
