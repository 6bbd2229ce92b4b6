package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewPostgresStore(mock)
}

func TestPostgresStore_Enqueue(t *testing.T) {
	mock, store := newMockStore(t)
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := json.RawMessage(`{"type":"text_completion","text":"hello"}`)

	mock.ExpectQuery("INSERT INTO requests").
		WithArgs("", "user-1", StatusPending, PriorityPremium, []byte(payload), defaultMaxAttempts).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("req-1", created))

	item := &WorkItem{OwnerID: "user-1", Priority: PriorityPremium, Payload: payload}
	if err := store.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if item.ID != "req-1" {
		t.Errorf("Expected id req-1, got %s", item.ID)
	}
	if !item.CreatedAt.Equal(created) {
		t.Errorf("Expected created_at %v, got %v", created, item.CreatedAt)
	}
	if item.Status != StatusPending {
		t.Errorf("Expected PENDING, got %s", item.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_EnqueueKeepsPresetID(t *testing.T) {
	mock, store := newMockStore(t)
	payload := json.RawMessage(`{}`)

	mock.ExpectQuery("INSERT INTO requests").
		WithArgs("0b6f0c3e-3f4a-4f38-9d55-2f9d1b7c0a11", "user-1", StatusPending, PriorityGeneral, []byte(payload), defaultMaxAttempts).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("0b6f0c3e-3f4a-4f38-9d55-2f9d1b7c0a11", time.Now()))

	item := &WorkItem{ID: "0b6f0c3e-3f4a-4f38-9d55-2f9d1b7c0a11", OwnerID: "user-1", Priority: PriorityGeneral, Payload: payload}
	if err := store.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if item.ID != "0b6f0c3e-3f4a-4f38-9d55-2f9d1b7c0a11" {
		t.Errorf("Expected preset id to be kept, got %s", item.ID)
	}
}

func TestPostgresStore_EnqueueDuplicateID(t *testing.T) {
	mock, store := newMockStore(t)
	payload := json.RawMessage(`{}`)

	mock.ExpectQuery("INSERT INTO requests").
		WithArgs("req-1", "user-1", StatusPending, PriorityGeneral, []byte(payload), defaultMaxAttempts).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	item := &WorkItem{ID: "req-1", OwnerID: "user-1", Priority: PriorityGeneral, Payload: payload}
	err := store.Enqueue(context.Background(), item)
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected ErrDuplicateID, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_CountPending(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery("COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"general", "premium"}).AddRow(4, 9))

	c, err := store.CountPending(context.Background())
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if c.General != 4 || c.Premium != 9 {
		t.Errorf("Expected 4/9, got %d/%d", c.General, c.Premium)
	}
}

func TestPostgresStore_LeaseReturnsOnlyUpdatedRows(t *testing.T) {
	mock, store := newMockStore(t)
	t1 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	locked := t2.Add(time.Minute)

	// Three were requested but a concurrent lease took one; only two come back,
	// and in no particular order.
	mock.ExpectQuery(`(?s)UPDATE requests\s+SET status = 'PROCESSING', locked_at = now\(\)\s+WHERE status = 'PENDING' AND id IN .*FOR UPDATE SKIP LOCKED.*RETURNING`).
		WithArgs(PriorityGeneral, 3).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "priority", "payload", "attempts", "max_attempts", "locked_at", "created_at",
		}).
			AddRow("b", "u1", PriorityGeneral, []byte(`{}`), 0, 3, locked, t2).
			AddRow("a", "u1", PriorityGeneral, []byte(`{}`), 0, 3, locked, t1))

	items, err := store.Lease(context.Background(), PriorityGeneral, 3)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 leased, got %d", len(items))
	}
	if items[0].ID != "a" || items[1].ID != "b" {
		t.Errorf("Expected oldest first [a b], got [%s %s]", items[0].ID, items[1].ID)
	}
	for _, it := range items {
		if it.Status != StatusProcessing {
			t.Errorf("Expected PROCESSING, got %s", it.Status)
		}
		if it.LockedAt == nil || !it.LockedAt.Equal(locked) {
			t.Errorf("Expected locked_at %v, got %v", locked, it.LockedAt)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_LeaseZeroLimit(t *testing.T) {
	mock, store := newMockStore(t)

	items, err := store.Lease(context.Background(), PriorityPremium, 0)
	if err != nil || items != nil {
		t.Errorf("Expected no-op, got %v (err=%v)", items, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected query issued: %v", err)
	}
}

func TestPostgresStore_CompleteDeletes(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("DELETE FROM requests WHERE id").
		WithArgs("req-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM requests WHERE id").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := store.Complete(context.Background(), "req-1"); err != nil {
		t.Errorf("Complete failed: %v", err)
	}
	if err := store.Complete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_Fail(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("SET status = 'FAILED'").
		WithArgs("req-1", "[ValidationError] bad chat").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.Fail(context.Background(), "req-1", "[ValidationError] bad chat"); err != nil {
		t.Errorf("Fail failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery("FROM requests").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_Stats(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery("COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"g", "p", "processing", "failed"}).AddRow(1, 2, 3, 4))

	st, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Pending[PriorityGeneral] != 1 || st.Pending[PriorityPremium] != 2 {
		t.Errorf("Unexpected pending: %+v", st.Pending)
	}
	if st.Processing != 3 || st.Failed != 4 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}

func TestPostgresStore_Cleanup(t *testing.T) {
	mock, store := newMockStore(t)
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM requests WHERE status = 'FAILED'").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := store.Cleanup(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 7 {
		t.Errorf("Expected 7 deleted, got %d", n)
	}
}
