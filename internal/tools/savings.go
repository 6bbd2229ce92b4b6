package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vnmchuo/assistant-queue/internal/profile"
)

type UpdateSavings struct {
	store profile.Store
}

func NewUpdateSavings(store profile.Store) *UpdateSavings {
	return &UpdateSavings{store: store}
}

func (t *UpdateSavings) Name() string { return "update_savings" }

func (t *UpdateSavings) Description() string {
	return "Updates the user's current savings so cooling periods are calculated more precisely"
}

func (t *UpdateSavings) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"amount": {"type": "integer", "minimum": 0, "description": "Current total savings"}
		},
		"required": ["amount"]
	}`)
}

func (t *UpdateSavings) Execute(ctx context.Context, call Call, raw json.RawMessage) (map[string]any, error) {
	var args struct {
		Amount int64 `json:"amount"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Amount < 0 {
		return failure(errors.New("amount cannot be negative")), nil
	}

	prev, err := t.store.UpdateSavings(ctx, call.UserID, args.Amount)
	if err != nil {
		return failure(err), nil
	}

	return map[string]any{
		"success":         true,
		"old_amount":      prev,
		"current_savings": args.Amount,
		"message":         fmt.Sprintf("Savings updated: %d -> %d", prev, args.Amount),
	}, nil
}
