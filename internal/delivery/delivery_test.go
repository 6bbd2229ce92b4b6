package delivery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupBridge(t *testing.T) (*Bridge, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBridge(rdb, DefaultTTL), mr
}

func collect(t *testing.T, sub *Subscription) []string {
	t.Helper()
	var got []string
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f, ok := <-sub.Fragments():
			if !ok {
				return got
			}
			got = append(got, f)
		case <-timeout:
			t.Fatalf("subscription did not terminate, got %v", got)
		}
	}
}

func TestResult_PollLifecycle(t *testing.T) {
	b, mr := setupBridge(t)
	ctx := context.Background()

	if _, ok, err := b.GetResult(ctx, "req-1"); err != nil || ok {
		t.Fatalf("Expected no result before write, got ok=%v err=%v", ok, err)
	}

	record := map[string]any{"id": "msg-1", "content": "hi", "status": "completed"}
	if err := b.SetResult(ctx, "req-1", record); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	raw, ok, err := b.GetResult(ctx, "req-1")
	if err != nil || !ok {
		t.Fatalf("Expected result after write, got ok=%v err=%v", ok, err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["content"] != "hi" || got["id"] != "msg-1" {
		t.Errorf("Unexpected record: %v", got)
	}

	// Still readable any number of times before expiry.
	if _, ok, _ := b.GetResult(ctx, "req-1"); !ok {
		t.Error("Expected repeated read to succeed")
	}

	mr.FastForward(DefaultTTL + time.Second)

	if _, ok, err := b.GetResult(ctx, "req-1"); err != nil || ok {
		t.Errorf("Expected result to expire, got ok=%v err=%v", ok, err)
	}
}

func TestSetError_PollMode(t *testing.T) {
	b, _ := setupBridge(t)
	ctx := context.Background()

	if err := b.SetError(ctx, "req-2", "chat 7 not found or unavailable", 400, false); err != nil {
		t.Fatalf("SetError failed: %v", err)
	}

	raw, ok, _ := b.GetResult(ctx, "req-2")
	if !ok {
		t.Fatal("Expected error record to be stored")
	}
	var rec ErrorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !rec.Error || rec.StatusCode != 400 || rec.Message != "chat 7 not found or unavailable" {
		t.Errorf("Unexpected error record: %+v", rec)
	}
}

func TestStream_OrderAndTermination(t *testing.T) {
	b, _ := setupBridge(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "req-3")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	start := map[string]any{"message_id": "m1", "status": "generating"}
	if err := b.Publish(ctx, "req-3", start); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	for _, c := range []string{"Hel", "lo", " \"world\""} {
		if err := b.PublishChunk(ctx, "req-3", c); err != nil {
			t.Fatalf("PublishChunk failed: %v", err)
		}
	}
	if err := b.PublishDone(ctx, "req-3"); err != nil {
		t.Fatalf("PublishDone failed: %v", err)
	}
	// Published after the terminal fragment; must not be delivered.
	_ = b.PublishChunk(ctx, "req-3", "late")

	got := collect(t, sub)
	want := []string{
		`{"message_id":"m1","status":"generating"}`,
		`"Hel"`,
		`"lo"`,
		`" \"world\""`,
		`{"status":"completed"}`,
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d fragments, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fragment %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestStream_ErrorTerminates(t *testing.T) {
	b, _ := setupBridge(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "req-4")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	_ = b.PublishChunk(ctx, "req-4", "partial")
	if err := b.SetError(ctx, "req-4", "upstream down", 500, true); err != nil {
		t.Fatalf("SetError failed: %v", err)
	}

	got := collect(t, sub)
	if len(got) != 2 {
		t.Fatalf("Expected 2 fragments, got %v", got)
	}
	if !IsTerminal(got[1]) {
		t.Errorf("Expected last fragment to be terminal, got %s", got[1])
	}
}

func TestStream_LateSubscriberSeesCompletion(t *testing.T) {
	b, mr := setupBridge(t)
	ctx := context.Background()

	if err := b.PublishDone(ctx, "req-5"); err != nil {
		t.Fatalf("PublishDone failed: %v", err)
	}

	sub, err := b.Subscribe(ctx, "req-5")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	got := collect(t, sub)
	_ = sub.Close()
	if len(got) != 1 || got[0] != `{"status":"completed"}` {
		t.Errorf("Expected completion for late subscriber, got %v", got)
	}

	if ttl := mr.TTL("stream:req-5"); ttl != DefaultTTL {
		t.Errorf("Expected stream key ttl %s, got %s", DefaultTTL, ttl)
	}
}

func TestStream_CloseUnblocks(t *testing.T) {
	b, _ := setupBridge(t)

	sub, err := b.Subscribe(context.Background(), "req-6")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = sub.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked")
	}
	if _, ok := <-sub.Fragments(); ok {
		t.Error("Expected fragments channel closed")
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		fragment string
		want     bool
	}{
		{`{"status":"completed"}`, true},
		{`{"error":true,"message":"x","status_code":500}`, true},
		{`{"status":"generating"}`, false},
		{`"completed"`, false},
		{`not json`, false},
	}
	for _, tt := range tests {
		if got := IsTerminal(tt.fragment); got != tt.want {
			t.Errorf("IsTerminal(%s): expected %v, got %v", tt.fragment, tt.want, got)
		}
	}
}

func TestPublishStart(t *testing.T) {
	b, _ := setupBridge(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "req-9")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	start := MessageStart{MessageID: "m1", ChatID: "c1", Role: "assistant", Model: "m", Status: "generating"}
	if err := b.PublishStart(ctx, "req-9", start); err != nil {
		t.Fatalf("PublishStart failed: %v", err)
	}
	_ = b.PublishDone(ctx, "req-9")

	got := collect(t, sub)
	if len(got) != 2 {
		t.Fatalf("Expected 2 fragments, got %v", got)
	}
	var decoded MessageStart
	if err := json.Unmarshal([]byte(got[0]), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.MessageID != "m1" || decoded.ChatID != "c1" || decoded.Status != "generating" {
		t.Errorf("Unexpected start fragment: %+v", decoded)
	}
}
