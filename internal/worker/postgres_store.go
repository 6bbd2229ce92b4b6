package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

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

func (s *PostgresStore) Enqueue(ctx context.Context, item *WorkItem) error {
	if item.MaxAttempts == 0 {
		item.MaxAttempts = defaultMaxAttempts
	}
	query := `
		INSERT INTO requests (id, user_id, status, priority, payload, attempts, max_attempts)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, 0, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		item.ID, item.OwnerID, StatusPending, item.Priority, []byte(item.Payload), item.MaxAttempts,
	).Scan(&item.ID, &item.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("failed to enqueue request %s: %w", item.ID, ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	item.Status = StatusPending
	return nil
}

func (s *PostgresStore) CountPending(ctx context.Context) (PendingCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE priority = 'GENERAL'),
			COUNT(*) FILTER (WHERE priority = 'PREMIUM')
		FROM requests
		WHERE status = 'PENDING'
	`
	var c PendingCounts
	if err := s.db.QueryRow(ctx, query).Scan(&c.General, &c.Premium); err != nil {
		return PendingCounts{}, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return c, nil
}

// Lease re-checks status = 'PENDING' inside the UPDATE itself, so a row
// claimed by a concurrent lease is skipped rather than claimed twice. Only
// the rows returned by the UPDATE are treated as leased.
func (s *PostgresStore) Lease(ctx context.Context, priority Priority, limit int) ([]*WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		UPDATE requests
		SET status = 'PROCESSING', locked_at = now()
		WHERE status = 'PENDING' AND id IN (
			SELECT id FROM requests
			WHERE status = 'PENDING' AND priority = $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, priority, payload, attempts, max_attempts, locked_at, created_at
	`
	rows, err := s.db.Query(ctx, query, priority, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to lease requests: %w", err)
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		var (
			it       WorkItem
			payload  []byte
			lockedAt time.Time
		)
		if err := rows.Scan(
			&it.ID, &it.OwnerID, &it.Priority, &payload,
			&it.Attempts, &it.MaxAttempts, &lockedAt, &it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan leased request: %w", err)
		}
		it.Status = StatusProcessing
		it.Payload = payload
		it.LockedAt = &lockedAt
		items = append(items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leased requests: %w", err)
	}

	// RETURNING has no defined order.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to complete request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE requests
		SET status = 'FAILED', processed_at = now(), error = $2
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark request failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*WorkItem, error) {
	query := `
		SELECT id, user_id, status, priority, payload, attempts, max_attempts,
			locked_at, processed_at, COALESCE(error, ''), created_at
		FROM requests
		WHERE id = $1
	`
	var (
		it      WorkItem
		payload []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&it.ID, &it.OwnerID, &it.Status, &it.Priority, &payload,
		&it.Attempts, &it.MaxAttempts, &it.LockedAt, &it.ProcessedAt, &it.Error, &it.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	it.Payload = payload
	return &it, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING' AND priority = 'GENERAL'),
			COUNT(*) FILTER (WHERE status = 'PENDING' AND priority = 'PREMIUM'),
			COUNT(*) FILTER (WHERE status = 'PROCESSING'),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM requests
	`
	var general, premium, processing, failed int
	if err := s.db.QueryRow(ctx, query).Scan(&general, &premium, &processing, &failed); err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return &Stats{
		Pending:    map[Priority]int{PriorityGeneral: general, PriorityPremium: premium},
		Processing: processing,
		Failed:     failed,
	}, nil
}

func (s *PostgresStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM requests WHERE status = 'FAILED' AND processed_at < $1`
	tag, err := s.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up requests: %w", err)
	}
	return tag.RowsAffected(), nil
}
