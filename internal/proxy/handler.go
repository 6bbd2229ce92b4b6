package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/assistant-queue/internal/auth"
	"github.com/vnmchuo/assistant-queue/internal/billing"
	"github.com/vnmchuo/assistant-queue/internal/chat"
	"github.com/vnmchuo/assistant-queue/internal/delivery"
	"github.com/vnmchuo/assistant-queue/internal/handler"
	"github.com/vnmchuo/assistant-queue/internal/worker"
	"github.com/vnmchuo/assistant-queue/pkg/ratelimit"
)

const DefaultModel = "gemini-2.5-flash-lite"

// Queue is the part of worker.Engine the API needs. The API process never
// runs the engine; it only writes to the shared table.
type Queue interface {
	EnqueueAs(ctx context.Context, id, ownerID string, payload any, priority worker.Priority) error
	Stats(ctx context.Context) (*worker.Stats, error)
}

type ChatRequest struct {
	Text        string            `json:"text"`
	ChatID      string            `json:"chat_id,omitempty"`
	Model       string            `json:"model"`
	Stream      bool              `json:"stream"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
	AgentID     string            `json:"agent_id,omitempty"`
}

func (r *ChatRequest) validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if r.ChatID != "" {
		if _, err := uuid.Parse(r.ChatID); err != nil {
			return fmt.Errorf("chat_id must be a uuid")
		}
	}
	for _, a := range r.Attachments {
		switch a.Type {
		case chat.AttachmentImage, chat.AttachmentFile, chat.AttachmentVideo, chat.AttachmentAudio:
		default:
			return fmt.Errorf("unsupported attachment type %q", a.Type)
		}
		if a.URL == "" {
			return fmt.Errorf("attachment url is required")
		}
	}
	return nil
}

type Config struct {
	PollInterval time.Duration
	MaxTimeout   time.Duration
}

type Handler struct {
	queue   Queue
	bridge  *delivery.Bridge
	billing billing.Store
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
	cfg     Config
}

func NewHandler(queue Queue, bridge *delivery.Bridge, billing billing.Store, limiter *ratelimit.Limiter,
	tracer trace.Tracer, logger *zap.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 300 * time.Second
	}
	return &Handler{
		queue:   queue,
		bridge:  bridge,
		billing: billing,
		limiter: limiter,
		tracer:  tracer,
		logger:  logger.Named("proxy"),
		cfg:     cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleMessage queues a chat request and waits for its answer, either by
// polling the result record or by relaying the stream as SSE.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}

	id, sub, ok := h.enqueue(ctx, w, userID, &req)
	if !ok {
		return
	}

	if req.Stream {
		defer sub.Close()
		h.relay(w, sub)
		return
	}
	h.poll(ctx, w, id)
}

// enqueue checks quota and rate limit, then stores the request. Stream
// requests are subscribed before the insert so no fragment can be missed.
func (h *Handler) enqueue(ctx context.Context, w http.ResponseWriter, userID string, req *ChatRequest) (string, *delivery.Subscription, bool) {
	ctx, span := h.tracer.Start(ctx, "proxy.enqueue")
	defer span.End()

	id := uuid.NewString()
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("request_id", id),
		attribute.String("model", req.Model),
		attribute.Bool("stream", req.Stream),
	)

	allowed, err := billing.CheckLimits(ctx, h.billing, userID)
	if err != nil {
		h.logger.Error("limit check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return "", nil, false
	}
	if !allowed {
		writeError(w, http.StatusPaymentRequired, "request limit reached or no active subscription")
		return "", nil, false
	}

	allowed, err = h.limiter.Allow(ctx, userID)
	if err != nil {
		h.logger.Error("rate limit check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return "", nil, false
	}
	if !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return "", nil, false
	}

	premium, err := billing.IsPremium(ctx, h.billing, userID)
	if err != nil {
		h.logger.Warn("premium check failed, using general priority", zap.Error(err))
	}
	priority := worker.PriorityGeneral
	if premium {
		priority = worker.PriorityPremium
	}
	span.SetAttributes(attribute.String("priority", string(priority)))

	var sub *delivery.Subscription
	if req.Stream {
		sub, err = h.bridge.Subscribe(ctx, id)
		if err != nil {
			h.logger.Error("subscribe failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return "", nil, false
		}
	}

	payload := handler.Payload{
		Type:        handler.TypeTextCompletion,
		Text:        req.Text,
		ChatID:      req.ChatID,
		Model:       req.Model,
		Stream:      req.Stream,
		AgentID:     req.AgentID,
		Attachments: req.Attachments,
	}
	if err := h.queue.EnqueueAs(ctx, id, userID, payload, priority); err != nil {
		if sub != nil {
			_ = sub.Close()
		}
		h.logger.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return "", nil, false
	}

	h.logger.Info("request queued",
		zap.String("request_id", id),
		zap.String("user_id", userID),
		zap.String("priority", string(priority)),
		zap.Bool("stream", req.Stream),
	)
	return id, sub, true
}

// poll waits for the result record. A timeout only ends this wait; the
// queued request keeps running.
func (h *Handler) poll(ctx context.Context, w http.ResponseWriter, id string) {
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(h.cfg.MaxTimeout)
	defer deadline.Stop()

	for {
		raw, ok, err := h.bridge.GetResult(ctx, id)
		if err != nil {
			h.logger.Warn("result read failed", zap.String("request_id", id), zap.Error(err))
		}
		if ok {
			h.writeResult(w, raw)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			writeError(w, http.StatusRequestTimeout, "processing timeout")
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) writeResult(w http.ResponseWriter, raw json.RawMessage) {
	var rec delivery.ErrorRecord
	if err := json.Unmarshal(raw, &rec); err == nil && rec.Error {
		status := rec.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeError(w, status, rec.Message)
		return
	}

	var res handler.ChatResult
	if err := json.Unmarshal(raw, &res); err != nil {
		h.logger.Error("malformed result record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) relay(w http.ResponseWriter, sub *delivery.Subscription) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for fragment := range sub.Fragments() {
		fmt.Fprintf(w, "data: %s\n\n", fragment)
		flusher.Flush()
	}
}

// UsageResponse is the subscription usage plus the caller's current
// per-minute rate limit window.
type UsageResponse struct {
	*billing.Usage
	RateLimit *RateLimitStatus `json:"rate_limit,omitempty"`
}

type RateLimitStatus struct {
	Limit      int   `json:"limit"`
	Remaining  int64 `json:"remaining"`
	ResetAfter int64 `json:"reset_after_seconds"`
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	usage, err := billing.GetUsage(ctx, h.billing, userID)
	if err != nil {
		h.logger.Error("usage lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := UsageResponse{Usage: usage}
	// The window is informational; a Redis hiccup should not hide the usage.
	if st, err := h.limiter.Status(ctx, userID); err != nil {
		h.logger.Warn("rate limit status failed", zap.Error(err))
	} else {
		resp.RateLimit = &RateLimitStatus{
			Limit:      st.Limit,
			Remaining:  st.Remaining,
			ResetAfter: int64(st.ResetAfter / time.Second),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if auth.GetUserID(ctx) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.queue.Stats(ctx)
	if err != nil {
		h.logger.Error("queue stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
