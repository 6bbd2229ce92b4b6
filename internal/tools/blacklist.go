package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vnmchuo/assistant-queue/internal/profile"
)

type AddToBlacklist struct {
	store profile.Store
}

func NewAddToBlacklist(store profile.Store) *AddToBlacklist {
	return &AddToBlacklist{store: store}
}

func (t *AddToBlacklist) Name() string { return "add_to_blacklist" }

func (t *AddToBlacklist) Description() string {
	return "Adds a product category to the user's blacklist of forbidden purchases"
}

func (t *AddToBlacklist) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"category": {"type": "string", "minLength": 1, "description": "Category to blacklist, e.g. video games, gadgets, alcohol"}
		},
		"required": ["category"]
	}`)
}

func (t *AddToBlacklist) Execute(ctx context.Context, call Call, raw json.RawMessage) (map[string]any, error) {
	var args struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	category := strings.TrimSpace(args.Category)

	list, err := t.store.AddToBlacklist(ctx, call.UserID, category)
	if errors.Is(err, profile.ErrAlreadyBlacklisted) {
		return map[string]any{
			"success": false,
			"message": fmt.Sprintf("Category '%s' is already blacklisted", category),
		}, nil
	}
	if err != nil {
		return failure(err), nil
	}

	return map[string]any{
		"success":   true,
		"category":  category,
		"blacklist": list,
		"message":   fmt.Sprintf("Category '%s' blacklisted. Now forbidden: %s", category, strings.Join(list, ", ")),
	}, nil
}
