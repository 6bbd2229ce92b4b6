package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/assistant-queue/internal/apperr"
	"github.com/vnmchuo/assistant-queue/internal/metrics"
)

type MockProvider struct {
	name        string
	completeErr error
	chunks      []*Chunk
}

func (m *MockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return &Response{
		Content:  "mock",
		Provider: m.name,
		Model:    req.Model,
	}, nil
}

func (m *MockProvider) CompleteStream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	ch := make(chan *Chunk, len(m.chunks))
	for _, c := range m.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (m *MockProvider) Name() string { return m.name }

func TestExecute_Success(t *testing.T) {
	router := NewRouter(map[string]Provider{ClientSync: &MockProvider{name: "gemini"}}, metrics.NewNop())

	resp, err := router.Execute(context.Background(), ClientSync, &Request{Model: "gemini-2.5-flash-lite"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.Content != "mock" {
		t.Errorf("Expected content 'mock', got %s", resp.Content)
	}
	if resp.Model != "gemini-2.5-flash-lite" {
		t.Errorf("Expected model passthrough, got %s", resp.Model)
	}
}

func TestExecute_UnknownRole(t *testing.T) {
	router := NewRouter(map[string]Provider{}, nil)

	if _, err := router.Execute(context.Background(), ClientTools, &Request{}); err == nil {
		t.Error("Expected error for unconfigured role")
	}
}

func TestExecute_ErrorsAreUpstream(t *testing.T) {
	router := NewRouter(map[string]Provider{
		ClientTools: &MockProvider{name: "openai", completeErr: errors.New("502 bad gateway")},
	}, nil)

	_, err := router.Execute(context.Background(), ClientTools, &Request{})
	if apperr.KindOf(err) != apperr.KindUpstream {
		t.Errorf("Expected upstream error, got %v", err)
	}
}

func TestExecute_CircuitBreakerOpens(t *testing.T) {
	bad := &MockProvider{name: "bad", completeErr: errors.New("fail")}
	router := NewRouter(map[string]Provider{ClientSync: bad}, nil)

	for i := 0; i < 3; i++ {
		_, _ = router.Execute(context.Background(), ClientSync, &Request{})
	}

	if router.State(ClientSync) != gobreaker.StateOpen {
		t.Fatalf("Expected breaker open after 3 failures, got %s", router.State(ClientSync))
	}

	_, err := router.Execute(context.Background(), ClientSync, &Request{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected open state error, got %v", err)
	}

	_, err = router.ExecuteStream(context.Background(), ClientSync, &Request{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected open state error for stream, got %v", err)
	}
}

func TestExecuteStream_RelaysChunks(t *testing.T) {
	p := &MockProvider{
		name: "nebius",
		chunks: []*Chunk{
			{Delta: "hello"},
			{Delta: " world"},
			{Done: true},
		},
	}
	router := NewRouter(map[string]Provider{ClientStream: p}, metrics.NewNop())

	ch, err := router.ExecuteStream(context.Background(), ClientStream, &Request{})
	if err != nil {
		t.Fatalf("ExecuteStream failed: %v", err)
	}

	var content string
	var done bool
	for chunk := range ch {
		if chunk.Done {
			done = true
			continue
		}
		content += chunk.Delta
	}
	if !done {
		t.Error("Expected stream to be done")
	}
	if content != "hello world" {
		t.Errorf("Expected 'hello world', got %s", content)
	}
}
