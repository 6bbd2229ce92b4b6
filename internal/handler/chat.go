package handler

import (
	"context"
	"strings"
	"time"

	"github.com/vnmchuo/assistant-queue/internal/apperr"
	"github.com/vnmchuo/assistant-queue/internal/chat"
	"github.com/vnmchuo/assistant-queue/internal/delivery"
	"github.com/vnmchuo/assistant-queue/internal/provider"
	"github.com/vnmchuo/assistant-queue/internal/worker"
)

// LLM is the slice of provider.Router the chat handler needs.
type LLM interface {
	Execute(ctx context.Context, role string, req *provider.Request) (*provider.Response, error)
	ExecuteStream(ctx context.Context, role string, req *provider.Request) (<-chan *provider.Chunk, error)
}

// ChatHandler answers text_completion requests. Streaming answers come from
// the stream client's fixed model; sync answers use the model the caller
// asked for.
type ChatHandler struct {
	pipeline    *Pipeline
	llm         LLM
	bridge      *delivery.Bridge
	streamModel string
	now         func() time.Time
}

func NewChatHandler(pipeline *Pipeline, llm LLM, bridge *delivery.Bridge, streamModel string) *ChatHandler {
	return &ChatHandler{
		pipeline:    pipeline,
		llm:         llm,
		bridge:      bridge,
		streamModel: streamModel,
		now:         time.Now,
	}
}

func (h *ChatHandler) Handle(ctx context.Context, item *worker.WorkItem, p *Payload) error {
	return h.pipeline.Process(ctx, item, p, h)
}

func (h *ChatHandler) Execute(ctx context.Context, item *worker.WorkItem, p *Payload, chatID string,
	msgs []provider.Message, messageID string, attachments []chat.Attachment) (string, error) {
	if p.Stream {
		return h.stream(ctx, item, p, chatID, msgs, messageID, attachments)
	}
	return h.sync(ctx, item, p, chatID, msgs, messageID, attachments)
}

func (h *ChatHandler) stream(ctx context.Context, item *worker.WorkItem, p *Payload, chatID string,
	msgs []provider.Message, messageID string, attachments []chat.Attachment) (string, error) {
	// Releases the upstream stream and its relays on every early return.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := h.bridge.PublishStart(ctx, item.ID, delivery.MessageStart{
		MessageID:   messageID,
		ChatID:      chatID,
		Role:        chat.RoleAssistant,
		Model:       p.Model,
		Attachments: attachments,
		CreatedAt:   h.now(),
		Status:      chat.StatusGenerating,
	})
	if err != nil {
		return "", err
	}

	ch, err := h.llm.ExecuteStream(ctx, provider.ClientStream, &provider.Request{
		Model:     h.streamModel,
		Messages:  msgs,
		Stream:    true,
		RequestID: item.ID,
	})
	if err != nil {
		return "", err
	}

	var content strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", apperr.Upstream(chunk.Err, "stream interrupted")
		}
		if chunk.Done {
			break
		}
		if chunk.Delta == "" {
			continue
		}
		if err := h.bridge.PublishChunk(ctx, item.ID, chunk.Delta); err != nil {
			return "", err
		}
		content.WriteString(chunk.Delta)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := h.bridge.PublishDone(ctx, item.ID); err != nil {
		return "", err
	}
	return content.String(), nil
}

func (h *ChatHandler) sync(ctx context.Context, item *worker.WorkItem, p *Payload, chatID string,
	msgs []provider.Message, messageID string, attachments []chat.Attachment) (string, error) {
	resp, err := h.llm.Execute(ctx, provider.ClientSync, &provider.Request{
		Model:     p.Model,
		Messages:  msgs,
		RequestID: item.ID,
	})
	if err != nil {
		return "", err
	}

	err = h.bridge.SetResult(ctx, item.ID, ChatResult{
		ID:          messageID,
		ChatID:      chatID,
		Role:        chat.RoleAssistant,
		Content:     resp.Content,
		Attachments: attachments,
		CreatedAt:   h.now(),
		Status:      chat.StatusCompleted,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
