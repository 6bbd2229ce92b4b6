package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound    = errors.New("work item not found")
	ErrDuplicateID = errors.New("work item id already exists")
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

type Priority string

const (
	PriorityGeneral Priority = "GENERAL"
	PriorityPremium Priority = "PREMIUM"
)

// ParsePriority accepts the two known classes.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityGeneral, PriorityPremium:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// WorkItem is one queued request. Completed items are deleted, so a stored
// item is always PENDING, PROCESSING or FAILED.
//
// Attempts and MaxAttempts are persisted but never consulted: a failed item
// is terminal.
type WorkItem struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Status      Status          `json:"status"`
	Priority    Priority        `json:"priority"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

const defaultMaxAttempts = 3

// PendingCounts is the number of PENDING items per priority class.
type PendingCounts struct {
	General int
	Premium int
}

func (c PendingCounts) Of(p Priority) int {
	if p == PriorityPremium {
		return c.Premium
	}
	return c.General
}

type Stats struct {
	Pending    map[Priority]int `json:"pending"`
	Processing int              `json:"processing"`
	Failed     int              `json:"failed"`
}

// Store is the durable work record table.
type Store interface {
	// Enqueue inserts item as PENDING and fills CreatedAt. A preset ID is
	// kept; otherwise one is generated. A preset ID that is already taken
	// fails with ErrDuplicateID.
	Enqueue(ctx context.Context, item *WorkItem) error
	CountPending(ctx context.Context) (PendingCounts, error)
	// Lease moves up to limit PENDING items of the class to PROCESSING, oldest
	// first, and returns exactly the rows it transitioned.
	Lease(ctx context.Context, priority Priority, limit int) ([]*WorkItem, error)
	// Complete deletes the item.
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, errMsg string) error
	Get(ctx context.Context, id string) (*WorkItem, error)
	Stats(ctx context.Context) (*Stats, error)
	// Cleanup deletes FAILED items processed before the cutoff.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}
