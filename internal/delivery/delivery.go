// Package delivery hands results from the queue workers to the HTTP process
// through Redis.
//
// Poll mode stores one record under result:{id} with a TTL. Stream mode
// publishes fragments on the stream:{id} channel; there is no replay, so a
// subscriber must attach before the first fragment is published. The terminal
// fragment is additionally kept under the stream:{id} key for the TTL so a
// late subscriber still learns the stream has ended.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 120 * time.Second

const StatusCompleted = "completed"

type ErrorRecord struct {
	Error      bool   `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// MessageStart opens a stream and describes the assistant message being
// generated.
type MessageStart struct {
	MessageID   string    `json:"message_id"`
	ChatID      string    `json:"chat_id"`
	Role        string    `json:"role"`
	Model       string    `json:"model"`
	Attachments any       `json:"attachments"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
}

type Bridge struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewBridge(rdb redis.UniversalClient, ttl time.Duration) *Bridge {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bridge{rdb: rdb, ttl: ttl}
}

func resultKey(id string) string { return fmt.Sprintf("result:%s", id) }
func streamKey(id string) string { return fmt.Sprintf("stream:%s", id) }

func encode(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return string(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode fragment: %w", err)
	}
	return string(b), nil
}

// SetResult stores the poll-mode record for id.
func (b *Bridge) SetResult(ctx context.Context, id string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := b.rdb.Set(ctx, resultKey(id), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set result: %w", err)
	}
	return nil
}

// GetResult returns the stored record, or ok=false when it is not ready or
// has expired.
func (b *Bridge) GetResult(ctx context.Context, id string) (json.RawMessage, bool, error) {
	data, err := b.rdb.Get(ctx, resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get result: %w", err)
	}
	return data, true, nil
}

// Publish sends one fragment. Strings are sent as-is; anything else is
// JSON-encoded.
func (b *Bridge) Publish(ctx context.Context, id string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, streamKey(id), data).Err(); err != nil {
		return fmt.Errorf("failed to publish fragment: %w", err)
	}
	return nil
}

func (b *Bridge) PublishStart(ctx context.Context, id string, start MessageStart) error {
	return b.Publish(ctx, id, start)
}

// PublishChunk sends text as a JSON string fragment.
func (b *Bridge) PublishChunk(ctx context.Context, id string, text string) error {
	data, err := json.Marshal(text)
	if err != nil {
		return fmt.Errorf("failed to encode chunk: %w", err)
	}
	return b.Publish(ctx, id, string(data))
}

// PublishDone ends the stream with {"status":"completed"}.
func (b *Bridge) PublishDone(ctx context.Context, id string) error {
	return b.publishTerminal(ctx, id, map[string]string{"status": StatusCompleted})
}

func (b *Bridge) publishTerminal(ctx context.Context, id string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, id, data); err != nil {
		return err
	}
	if err := b.rdb.Set(ctx, streamKey(id), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark stream finished: %w", err)
	}
	return nil
}

// SetError delivers an error record through whichever mode the caller chose.
func (b *Bridge) SetError(ctx context.Context, id string, message string, statusCode int, stream bool) error {
	rec := ErrorRecord{Error: true, Message: message, StatusCode: statusCode}
	if stream {
		return b.publishTerminal(ctx, id, rec)
	}
	return b.SetResult(ctx, id, rec)
}

// IsTerminal reports whether a raw fragment ends a stream.
func IsTerminal(fragment string) bool {
	var probe struct {
		Status string `json:"status"`
		Error  bool   `json:"error"`
	}
	if err := json.Unmarshal([]byte(fragment), &probe); err != nil {
		return false
	}
	return probe.Status == StatusCompleted || probe.Error
}

type Subscription struct {
	ps        *redis.PubSub
	fragments chan string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Subscribe attaches to the stream for id. The subscription is confirmed by
// Redis before Subscribe returns, so fragments published afterwards are
// never missed.
func (b *Bridge) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, streamKey(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	finished, err := b.rdb.Get(ctx, streamKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to check stream state: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ps:        ps,
		fragments: make(chan string),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.relay(ctx, finished)
	return s, nil
}

func (s *Subscription) relay(ctx context.Context, finished string) {
	defer close(s.done)
	defer close(s.fragments)

	if finished != "" {
		select {
		case s.fragments <- finished:
		case <-ctx.Done():
		}
		return
	}

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case s.fragments <- msg.Payload:
			case <-ctx.Done():
				return
			}
			if IsTerminal(msg.Payload) {
				return
			}
		}
	}
}

// Fragments yields raw fragments in publish order. It is closed after the
// first terminal fragment or when the subscription ends.
func (s *Subscription) Fragments() <-chan string {
	return s.fragments
}

func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return s.ps.Close()
}
