package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vnmchuo/assistant-queue/internal/profile"
)

type AddPurchase struct {
	svc *profile.Service
}

func NewAddPurchase(svc *profile.Service) *AddPurchase {
	return &AddPurchase{svc: svc}
}

func (t *AddPurchase) Name() string { return "add_purchase" }

func (t *AddPurchase) Description() string {
	return "Adds an item to the wish list. Use when the user wants to buy something with a name, price and category. The cooling period is calculated automatically."
}

func (t *AddPurchase) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Item name"},
			"price": {"type": "integer", "minimum": 0, "description": "Item price"},
			"category": {"type": "string", "description": "Item category, e.g. electronics, clothes, home, plants"},
			"url": {"type": "string", "description": "Link to the item (optional)"}
		},
		"required": ["name", "price", "category"]
	}`)
}

type addPurchaseArgs struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Category string `json:"category"`
	URL      string `json:"url"`
}

func (t *AddPurchase) Execute(ctx context.Context, call Call, raw json.RawMessage) (map[string]any, error) {
	var args addPurchaseArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	p, analysis, err := t.svc.AddPurchase(ctx, call.UserID, call.ChatID, profile.NewPurchase{
		Name:     args.Name,
		Price:    args.Price,
		Category: args.Category,
		URL:      args.URL,
	})
	if err != nil {
		return failure(err), nil
	}

	available := "now"
	if p.AvailableDate != nil {
		available = p.AvailableDate.Format("02.01.2006")
	}
	return map[string]any{
		"success":        true,
		"purchase_id":    p.ID,
		"name":           p.Name,
		"price":          p.Price,
		"category":       p.Category,
		"cooling_days":   p.CoolingDays,
		"available_date": available,
		"recommendation": analysis.Recommendation,
		"message":        fmt.Sprintf("Added '%s'. Recommended cooling period: %d days", p.Name, p.CoolingDays),
	}, nil
}

func failure(err error) map[string]any {
	return map[string]any{"success": false, "error": err.Error()}
}
