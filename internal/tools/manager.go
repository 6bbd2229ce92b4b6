package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vnmchuo/assistant-queue/internal/metrics"
	"github.com/vnmchuo/assistant-queue/internal/provider"
)

// Completer is the slice of provider.Router the manager needs.
type Completer interface {
	Execute(ctx context.Context, role string, req *provider.Request) (*provider.Response, error)
}

// Invocation records one executed tool call.
type Invocation struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
}

// Message is a conversation turn plus the tool calls it reports. Metadata
// is never sent to the model.
type Message struct {
	provider.Message
	Metadata []Invocation
}

type Manager struct {
	registry *Registry
	llm      Completer
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewManager(registry *Registry, llm Completer, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry: registry,
		llm:      llm,
		logger:   logger.Named("tools"),
		metrics:  m,
	}
}

// ProcessWithTools lets the tools model decide on function calls, runs them
// concurrently and appends the assistant call turn plus one tool message per
// call. Without calls the history comes back unchanged.
func (m *Manager) ProcessWithTools(ctx context.Context, msgs []provider.Message, model string, call Call) ([]Message, error) {
	out := make([]Message, len(msgs), len(msgs)+4)
	for i, msg := range msgs {
		out[i] = Message{Message: msg}
	}

	resp, err := m.llm.Execute(ctx, provider.ClientTools, &provider.Request{
		Model:      model,
		Messages:   msgs,
		Tools:      m.registry.Definitions(),
		ToolChoice: "auto",
	})
	if err != nil {
		return nil, err
	}
	if len(resp.ToolCalls) == 0 {
		return out, nil
	}

	out = append(out, Message{Message: provider.Message{
		Role:      provider.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}})

	results := make([]Message, len(resp.ToolCalls))
	var wg sync.WaitGroup
	for i, tc := range resp.ToolCalls {
		wg.Add(1)
		go func(i int, tc provider.ToolCall) {
			defer wg.Done()
			results[i] = m.run(ctx, tc, call)
		}(i, tc)
	}
	wg.Wait()

	return append(out, results...), nil
}

func (m *Manager) run(ctx context.Context, tc provider.ToolCall, call Call) Message {
	msg := Message{Message: provider.Message{
		Role:       provider.RoleTool,
		ToolCallID: tc.ID,
		Name:       tc.Name,
	}}

	result, err := m.registry.Execute(ctx, tc.Name, call, json.RawMessage(tc.Arguments))
	m.metrics.ObserveTool(tc.Name, err)
	if err != nil {
		m.logger.Warn("tool call failed", zap.String("tool", tc.Name), zap.Error(err))
		msg.Content = fmt.Sprintf("tool execution error: %v", err)
		return msg
	}

	content, err := json.Marshal(result)
	if err != nil {
		msg.Content = fmt.Sprintf("tool execution error: %v", err)
		return msg
	}
	msg.Content = string(content)

	var args map[string]any
	_ = json.Unmarshal([]byte(tc.Arguments), &args)
	msg.Metadata = []Invocation{{ToolName: tc.Name, Arguments: args, Result: result}}

	m.logger.Info("tool executed", zap.String("tool", tc.Name), zap.String("user_id", call.UserID))
	return msg
}

// Strip drops tool metadata, leaving what the model should see.
func Strip(msgs []Message) []provider.Message {
	out := make([]provider.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Message
	}
	return out
}

// Invocations collects the metadata of every tool message.
func Invocations(msgs []Message) []Invocation {
	var out []Invocation
	for _, msg := range msgs {
		out = append(out, msg.Metadata...)
	}
	return out
}
