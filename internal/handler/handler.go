// Package handler turns leased work items into chat answers.
//
// The Registry decodes the payload and routes it by type. Chat handlers share
// the Pipeline, which persists the conversation, runs tools and hands the
// final generation to an Executor.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/assistant-queue/internal/apperr"
	"github.com/vnmchuo/assistant-queue/internal/chat"
	"github.com/vnmchuo/assistant-queue/internal/delivery"
	"github.com/vnmchuo/assistant-queue/internal/worker"
)

const TypeTextCompletion = "text_completion"

// Payload is the JSON stored with every queued request.
type Payload struct {
	Type        string            `json:"type"`
	Text        string            `json:"text"`
	ChatID      string            `json:"chat_id,omitempty"`
	Model       string            `json:"model"`
	Stream      bool              `json:"stream"`
	AgentID     string            `json:"agent_id,omitempty"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
}

// ChatResult is the poll-mode success record.
type ChatResult struct {
	ID          string            `json:"id"`
	ChatID      string            `json:"chat_id"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments"`
	CreatedAt   time.Time         `json:"created_at"`
	Status      string            `json:"status"`
}

type Handler interface {
	Handle(ctx context.Context, item *worker.WorkItem, p *Payload) error
}

type HandlerFunc func(ctx context.Context, item *worker.WorkItem, p *Payload) error

func (f HandlerFunc) Handle(ctx context.Context, item *worker.WorkItem, p *Payload) error {
	return f(ctx, item, p)
}

// Registry maps payload types to handlers. It is built once at startup and
// read-only afterwards.
type Registry struct {
	handlers map[string]Handler
	bridge   *delivery.Bridge
	logger   *zap.Logger
}

// NewRegistry returns an empty registry. Requests rejected before a handler
// runs are reported through bridge so the waiting client is not left to time
// out.
func NewRegistry(bridge *delivery.Bridge, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		bridge:   bridge,
		logger:   logger.Named("handler"),
	}
}

func (r *Registry) Register(typ string, h Handler) {
	if _, ok := r.handlers[typ]; ok {
		panic(fmt.Sprintf("handler: duplicate registration for %q", typ))
	}
	r.handlers[typ] = h
}

// Dispatch is a worker.DispatchFunc.
func (r *Registry) Dispatch(ctx context.Context, item *worker.WorkItem) error {
	if len(item.Payload) == 0 {
		return r.reject(ctx, item, nil, apperr.Validation("empty payload"))
	}

	var p Payload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return r.reject(ctx, item, nil, apperr.Validation("malformed payload: %v", err))
	}
	if p.Type == "" {
		return r.reject(ctx, item, &p, apperr.Validation("payload type is required"))
	}

	h, ok := r.handlers[p.Type]
	if !ok {
		return r.reject(ctx, item, &p, apperr.Validation("no handler for type %q", p.Type))
	}
	return h.Handle(ctx, item, &p)
}

func (r *Registry) reject(ctx context.Context, item *worker.WorkItem, p *Payload, err error) error {
	r.logger.Warn("rejected request", zap.String("request_id", item.ID), zap.Error(err))
	if r.bridge != nil {
		stream := p != nil && p.Stream
		if serr := r.bridge.SetError(context.WithoutCancel(ctx), item.ID, apperr.ClientMessage(err), apperr.StatusCode(err), stream); serr != nil {
			r.logger.Error("failed to deliver error", zap.String("request_id", item.ID), zap.Error(serr))
		}
	}
	return err
}
