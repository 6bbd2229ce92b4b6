package provider

import (
	"context"
	"encoding/json"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Stream      bool
	Tools       []ToolDef
	ToolChoice  string // "auto", "none" or empty
	// Metadata for tracing
	TenantID  string
	RequestID string
}

type Message struct {
	Role    string
	Content string
	// Parts, when set, replaces Content with multi-part input.
	Parts      []ContentPart
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ContentPart is one piece of multi-part user input. Type is "text",
// "image_url", "file_url", "video_url" or "audio_url".
type ContentPart struct {
	Type string
	Text string
	URL  string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type Response struct {
	ID           string
	Content      string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

type Chunk struct {
	Delta string
	Done  bool
	Err   error
}

type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	CompleteStream(ctx context.Context, req *Request) (<-chan *Chunk, error)
	Name() string
}
