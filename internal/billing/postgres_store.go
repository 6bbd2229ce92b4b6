package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (user_id, tariff, req_max, req_used, active, expire_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		sub.UserID, sub.Tariff, sub.ReqMax, sub.ReqUsed, sub.Active, sub.ExpireDate,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Active(ctx context.Context, userID string) (*Subscription, error) {
	query := `
		SELECT id, user_id, tariff, req_max, req_used, active, expire_date, created_at
		FROM subscriptions
		WHERE user_id = $1 AND active = true
		ORDER BY created_at DESC
		LIMIT 1
	`
	var sub Subscription
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&sub.ID, &sub.UserID, &sub.Tariff, &sub.ReqMax, &sub.ReqUsed, &sub.Active, &sub.ExpireDate, &sub.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, userID string) error {
	query := `UPDATE subscriptions SET req_used = req_used + 1 WHERE user_id = $1 AND active = true`
	tag, err := s.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("usage not updated for user %s: %w", userID, ErrNoActiveSubscription)
	}
	return nil
}

func (s *PostgresStore) ResetUsage(ctx context.Context) (int64, error) {
	query := `UPDATE subscriptions SET req_used = 0 WHERE active = true`
	tag, err := s.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
