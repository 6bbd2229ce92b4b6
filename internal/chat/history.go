package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vnmchuo/assistant-queue/internal/profile"
	"github.com/vnmchuo/assistant-queue/internal/provider"
)

// DefaultHistoryLimit is how many stored messages are replayed to the model.
const DefaultHistoryLimit = 10

const BaseSystemPrompt = `You are a personal finance assistant that helps the user avoid impulse purchases.
Use the profile below when answering. When the user wants to buy something, record it with add_purchase and explain the cooling period.
When the user reports new savings, call update_savings. When the user wants to stop buying a category, call add_to_blacklist.
Answer in the user's language. Be brief and concrete.`

// History reads and writes the conversation log around a model call.
type History struct {
	chats    Store
	profiles profile.Store
	limit    int
}

func NewHistory(chats Store, profiles profile.Store) *History {
	return &History{chats: chats, profiles: profiles, limit: DefaultHistoryLimit}
}

func (h *History) AddUserMessage(ctx context.Context, chatID, content, model string, attachments []Attachment) error {
	return h.chats.AddMessage(ctx, &Message{
		ChatID:      chatID,
		Role:        RoleUser,
		Content:     content,
		Model:       model,
		Status:      StatusCompleted,
		Attachments: attachments,
	})
}

// AddAssistantMessage stores an assistant turn. An empty content creates a
// placeholder in the generating state.
func (h *History) AddAssistantMessage(ctx context.Context, chatID, content, model string) (*Message, error) {
	status := StatusCompleted
	if content == "" {
		status = StatusGenerating
	}
	m := &Message{
		ChatID:  chatID,
		Role:    RoleAssistant,
		Content: content,
		Model:   model,
		Status:  status,
	}
	if err := h.chats.AddMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ToolRecord describes one tool call made while producing an answer.
type ToolRecord struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
}

// CompleteAssistantMessage fills in the placeholder once the answer is known.
func (h *History) CompleteAssistantMessage(ctx context.Context, id, content string, attachments []Attachment, tools []ToolRecord) error {
	upd := MessageUpdate{
		Content:     content,
		Status:      StatusCompleted,
		Attachments: attachments,
	}
	if len(tools) > 0 {
		upd.ToolIDs = make([]string, len(tools))
		for i, t := range tools {
			upd.ToolIDs[i] = t.ToolName
		}
		upd.MetaData = map[string]any{"tools": tools}
	}
	return h.chats.UpdateMessage(ctx, id, upd)
}

// Build returns the last messages of the chat in chronological order,
// preceded by the system prompt.
func (h *History) Build(ctx context.Context, chatID, userID string) ([]provider.Message, error) {
	stored, err := h.chats.RecentMessages(ctx, chatID, h.limit)
	if err != nil {
		return nil, err
	}

	msgs := make([]provider.Message, 0, len(stored)+1)
	for i := len(stored) - 1; i >= 0; i-- {
		m := stored[i]
		foldAssistantMedia(m, msgs)
		msgs = append(msgs, formatMessage(m))
	}

	prompt, err := h.SystemPrompt(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	return append([]provider.Message{{Role: provider.RoleSystem, Content: prompt}}, msgs...), nil
}

// SystemPrompt renders the base prompt with the user's profile and the
// purchases tracked in this chat. A missing user gets the base prompt only.
func (h *History) SystemPrompt(ctx context.Context, chatID, userID string) (string, error) {
	u, err := h.profiles.GetUser(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return BaseSystemPrompt, nil
	}
	if err != nil {
		return "", err
	}
	purchases, err := h.profiles.ChatPurchases(ctx, chatID, userID)
	if err != nil {
		return "", err
	}
	return BaseSystemPrompt + profileBlock(u) + purchasesBlock(purchases), nil
}

func profileBlock(u *profile.User) string {
	var b strings.Builder
	b.WriteString("\n\n=== PROFILE ===\n")
	fmt.Fprintf(&b, "Salary: %s/mo | Saves: %s/mo | Savings: %s\n",
		groupDigits(u.MonthlySalary), groupDigits(u.MonthlySavings), groupDigits(u.CurrentSavings))

	blacklist := "none"
	if len(u.Blacklist) > 0 {
		blacklist = strings.Join(u.Blacklist, ", ")
	}
	fmt.Fprintf(&b, "Blacklisted: %s", blacklist)

	if len(u.CoolingRanges) == 0 {
		b.WriteString("\nCooling: not configured")
		return b.String()
	}
	b.WriteString("\nCooling:")
	for _, r := range u.CoolingRanges {
		fmt.Fprintf(&b, "\n%s-%s -> %dd", groupDigits(r.MinAmount), groupDigits(r.MaxAmount), r.Days)
	}
	return b.String()
}

var purchaseMarks = map[profile.PurchaseStatus]string{
	profile.PurchasePending:   "[pending]",
	profile.PurchasePurchased: "[bought]",
	profile.PurchaseCancelled: "[cancelled]",
}

func purchasesBlock(list []*profile.Purchase) string {
	if len(list) == 0 {
		return "\n\n=== PURCHASES ===\nEmpty"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n=== PURCHASES (%d) ===", len(list))
	for _, p := range list {
		date := "now"
		if p.AvailableDate != nil {
			date = p.AvailableDate.Format("02.01.2006")
		}
		fmt.Fprintf(&b, "\n%s %s | %s | %s | %dd | %s",
			purchaseMarks[p.Status], p.Name, groupDigits(p.Price), p.Category, p.CoolingDays, date)
	}
	return b.String()
}

// groupDigits renders 1234567 as 1,234,567.
func groupDigits(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

var partTypes = map[string]string{
	AttachmentImage: "image_url",
	AttachmentFile:  "file_url",
	AttachmentVideo: "video_url",
	AttachmentAudio: "audio_url",
}

func formatMessage(m *Message) provider.Message {
	if m.Role == RoleAssistant {
		return provider.Message{Role: provider.RoleAssistant, Content: m.Content}
	}

	var media []provider.ContentPart
	for _, kind := range []string{AttachmentImage, AttachmentFile, AttachmentVideo, AttachmentAudio} {
		for _, a := range m.Attachments {
			if a.Type == kind {
				media = append(media, provider.ContentPart{Type: partTypes[kind], URL: a.URL})
			}
		}
	}
	if len(media) == 0 {
		return provider.Message{Role: m.Role, Content: m.Content}
	}
	parts := append([]provider.ContentPart{{Type: "text", Text: m.Content}}, media...)
	return provider.Message{Role: m.Role, Parts: parts}
}

// foldAssistantMedia moves images and audio produced by the assistant onto
// the preceding user turn, since the models only accept media from users.
func foldAssistantMedia(m *Message, msgs []provider.Message) {
	if m.Role != RoleAssistant || len(m.Attachments) == 0 || len(msgs) == 0 {
		return
	}
	prev := &msgs[len(msgs)-1]
	if prev.Role != provider.RoleUser {
		return
	}

	var media []provider.ContentPart
	for _, kind := range []string{AttachmentImage, AttachmentAudio} {
		for _, a := range m.Attachments {
			if a.Type == kind {
				media = append(media, provider.ContentPart{Type: partTypes[kind], URL: a.URL})
			}
		}
	}
	if len(media) == 0 {
		return
	}
	if len(prev.Parts) == 0 {
		prev.Parts = []provider.ContentPart{{Type: "text", Text: prev.Content}}
		prev.Content = ""
	}
	prev.Parts = append(prev.Parts, media...)
}
