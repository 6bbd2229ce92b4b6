package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/vnmchuo/assistant-queue/internal/apperr"
	"github.com/vnmchuo/assistant-queue/internal/billing"
	"github.com/vnmchuo/assistant-queue/internal/chat"
	"github.com/vnmchuo/assistant-queue/internal/delivery"
	"github.com/vnmchuo/assistant-queue/internal/provider"
	"github.com/vnmchuo/assistant-queue/internal/tools"
	"github.com/vnmchuo/assistant-queue/internal/worker"
)

const (
	DefaultTitle = "New chat"

	titlePrompt = "Write a short title (at most five words) for a conversation that starts " +
		"with the following message. Reply with the title only, without quotes."
	titleMaxTokens = 100
	titleMaxRunes  = 50
)

// Executor produces the final answer for a prepared conversation and
// delivers it to the client. It returns the full answer text.
type Executor interface {
	Execute(ctx context.Context, item *worker.WorkItem, p *Payload, chatID string,
		msgs []provider.Message, messageID string, attachments []chat.Attachment) (string, error)
}

type PipelineDeps struct {
	Chats      chat.Store
	History    *chat.History
	Tools      *tools.Manager
	LLM        tools.Completer
	Billing    billing.Store
	Bridge     *delivery.Bridge
	ToolsModel string
	Logger     *zap.Logger
	Tracer     trace.Tracer
}

// Pipeline holds the steps every chat request goes through regardless of how
// the answer is delivered.
type Pipeline struct {
	chats      chat.Store
	history    *chat.History
	tools      *tools.Manager
	llm        tools.Completer
	billing    billing.Store
	bridge     *delivery.Bridge
	toolsModel string
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewPipeline(d PipelineDeps) *Pipeline {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("handler")
	}
	return &Pipeline{
		chats:      d.Chats,
		history:    d.History,
		tools:      d.Tools,
		llm:        d.LLM,
		billing:    d.Billing,
		bridge:     d.Bridge,
		toolsModel: d.ToolsModel,
		logger:     d.Logger.Named("pipeline"),
		tracer:     d.Tracer,
	}
}

// Process runs one chat request end to end. Any failure is reported to the
// client through the bridge and returned so the worker marks the item
// FAILED.
func (pl *Pipeline) Process(ctx context.Context, item *worker.WorkItem, p *Payload, exec Executor) error {
	ctx, span := pl.tracer.Start(ctx, "handler.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", item.ID),
		attribute.String("type", p.Type),
		attribute.Bool("stream", p.Stream),
	)

	if err := pl.process(ctx, item, p, exec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		pl.fail(ctx, item, p, err)
		return err
	}
	return nil
}

func (pl *Pipeline) process(ctx context.Context, item *worker.WorkItem, p *Payload, exec Executor) error {
	if strings.TrimSpace(p.Text) == "" {
		return apperr.Validation("text is required")
	}

	// Step 1: Resolve the chat
	chatID, err := pl.resolveChat(ctx, item.OwnerID, p)
	if err != nil {
		return err
	}

	// Step 2: Persist the user turn
	if err := pl.history.AddUserMessage(ctx, chatID, p.Text, p.Model, p.Attachments); err != nil {
		return err
	}

	// Step 3: History with system prompt
	msgs, err := pl.history.Build(ctx, chatID, item.OwnerID)
	if err != nil {
		return err
	}

	// Step 4: Placeholder for the answer
	placeholder, err := pl.history.AddAssistantMessage(ctx, chatID, "", p.Model)
	if err != nil {
		return err
	}

	// Step 5: Tool calls
	processed, err := pl.tools.ProcessWithTools(ctx, msgs, pl.toolsModel, tools.Call{
		UserID: item.OwnerID,
		ChatID: chatID,
	})
	if err != nil {
		return err
	}

	// Step 6-7: Generate and deliver
	attachments := extractAttachments(processed)
	content, err := exec.Execute(ctx, item, p, chatID, tools.Strip(processed), placeholder.ID, attachments)
	if err != nil {
		return err
	}

	// Step 8: Finalize the placeholder
	if err := pl.history.CompleteAssistantMessage(ctx, placeholder.ID, content, attachments, toolRecords(processed)); err != nil {
		return err
	}

	// Step 9: Count the request
	if err := pl.billing.IncrementUsage(ctx, item.OwnerID); err != nil {
		return err
	}

	pl.logger.Info("chat request completed",
		zap.String("request_id", item.ID),
		zap.String("chat_id", chatID),
	)
	return nil
}

func (pl *Pipeline) resolveChat(ctx context.Context, userID string, p *Payload) (string, error) {
	if p.ChatID != "" {
		if _, err := uuid.Parse(p.ChatID); err != nil {
			return "", apperr.Validation("chat %s not found or unavailable", p.ChatID)
		}
		c, err := pl.chats.GetChat(ctx, p.ChatID, userID)
		if errors.Is(err, chat.ErrNotFound) {
			return "", apperr.Validation("chat %s not found or unavailable", p.ChatID)
		}
		if err != nil {
			return "", err
		}
		return c.ID, nil
	}

	c, err := pl.chats.CreateChat(ctx, userID, pl.title(ctx, p.Text))
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// title asks the tools model to name a new chat. Failures fall back to the
// default title.
func (pl *Pipeline) title(ctx context.Context, text string) string {
	resp, err := pl.llm.Execute(ctx, provider.ClientTools, &provider.Request{
		Model: pl.toolsModel,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: titlePrompt},
			{Role: provider.RoleUser, Content: text},
		},
		MaxTokens: titleMaxTokens,
	})
	if err != nil {
		pl.logger.Warn("chat title generation failed", zap.Error(err))
		return DefaultTitle
	}

	title := strings.TrimSpace(resp.Content)
	if utf8.RuneCountInString(title) > titleMaxRunes {
		title = string([]rune(title)[:titleMaxRunes])
	}
	if title == "" {
		return DefaultTitle
	}
	return title
}

// fail reports err to the waiting client. Server faults are reported with a
// generic message; the detail goes to the log and the work item. Nothing is
// sent when shutdown interrupted the request, since the item stays
// PROCESSING.
func (pl *Pipeline) fail(ctx context.Context, item *worker.WorkItem, p *Payload, err error) {
	log := pl.logger.With(zap.String("request_id", item.ID), zap.String("kind", string(apperr.KindOf(err))))
	switch {
	case apperr.Interrupted(ctx, err):
		log.Warn("chat request interrupted by shutdown", zap.Error(err))
		return
	case apperr.IsValidation(err):
		log.Warn("chat request rejected", zap.Error(err))
	default:
		log.Error("chat request failed", zap.Error(err))
	}

	if serr := pl.bridge.SetError(context.WithoutCancel(ctx), item.ID, apperr.ClientMessage(err), apperr.StatusCode(err), p.Stream); serr != nil {
		log.Error("failed to deliver error", zap.Error(serr))
	}
}

// extractAttachments collects the *_url fields of successful tool results.
func extractAttachments(msgs []tools.Message) []chat.Attachment {
	var out []chat.Attachment
	for _, m := range msgs {
		if m.Role != provider.RoleTool {
			continue
		}
		var result map[string]any
		if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
			continue
		}
		if ok, _ := result["success"].(bool); !ok {
			continue
		}

		keys := make([]string, 0, len(result))
		for k := range result {
			if strings.HasSuffix(k, "_url") {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if url, ok := result[k].(string); ok && url != "" {
				out = append(out, chat.Attachment{Type: strings.TrimSuffix(k, "_url"), URL: url})
			}
		}
	}
	return out
}

func toolRecords(msgs []tools.Message) []chat.ToolRecord {
	inv := tools.Invocations(msgs)
	if len(inv) == 0 {
		return nil
	}
	out := make([]chat.ToolRecord, len(inv))
	for i, v := range inv {
		out[i] = chat.ToolRecord{ToolName: v.ToolName, Arguments: v.Arguments, Result: v.Result}
	}
	return out
}
