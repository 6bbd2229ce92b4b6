package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/vnmchuo/assistant-queue/internal/metrics"
	"github.com/vnmchuo/assistant-queue/internal/profile"
	"github.com/vnmchuo/assistant-queue/internal/provider"
)

type MockCompleter struct {
	ExecuteFunc func(ctx context.Context, role string, req *provider.Request) (*provider.Response, error)
}

func (m *MockCompleter) Execute(ctx context.Context, role string, req *provider.Request) (*provider.Response, error) {
	return m.ExecuteFunc(ctx, role, req)
}

func newFixture(t *testing.T) (*Registry, *profile.MemoryStore, Call) {
	t.Helper()
	store := profile.NewMemoryStore()
	u := &profile.User{MonthlySavings: 10000, CurrentSavings: 0, Blacklist: []string{"Alcohol"}}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	r := NewRegistry()
	Register(r, profile.NewService(store))
	return r, store, Call{UserID: u.ID, ChatID: "chat-1"}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(NewUpdateSavings(profile.NewMemoryStore()))

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	r.Register(NewUpdateSavings(profile.NewMemoryStore()))
}

func TestRegistry_Definitions(t *testing.T) {
	r, _, _ := newFixture(t)

	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("Expected 3 definitions, got %d", len(defs))
	}
	names := []string{defs[0].Name, defs[1].Name, defs[2].Name}
	if strings.Join(names, ",") != "add_purchase,add_to_blacklist,update_savings" {
		t.Errorf("Unexpected definitions order: %v", names)
	}
	if !json.Valid(defs[0].Parameters) {
		t.Errorf("Expected valid JSON schema, got %s", defs[0].Parameters)
	}
}

func TestRegistry_ValidatesArguments(t *testing.T) {
	r, _, call := newFixture(t)

	cases := map[string]string{
		"missing required": `{"name":"Phone","category":"tech"}`,
		"wrong type":       `{"name":"Phone","price":"cheap","category":"tech"}`,
		"not json":         `{name`,
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := r.Execute(context.Background(), "add_purchase", call, json.RawMessage(args)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if _, err := r.Execute(context.Background(), "nope", call, nil); err == nil {
		t.Error("Expected error for unknown tool")
	}
}

func TestAddPurchase(t *testing.T) {
	r, store, call := newFixture(t)

	res, err := r.Execute(context.Background(), "add_purchase", call,
		json.RawMessage(`{"name":"Phone","price":25000,"category":"tech","url":"https://shop/p"}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if res["success"] != true {
		t.Fatalf("Expected success, got %v", res)
	}
	if res["cooling_days"] != 90 {
		t.Errorf("Expected 90 cooling days, got %v", res["cooling_days"])
	}
	if s, _ := res["available_date"].(string); len(s) != len("02.01.2006") {
		t.Errorf("Expected dd.mm.yyyy date, got %v", res["available_date"])
	}

	list, _ := store.ChatPurchases(context.Background(), "chat-1", call.UserID)
	if len(list) != 1 || list[0].URL != "https://shop/p" {
		t.Errorf("Expected stored purchase with url, got %+v", list)
	}
}

func TestAddPurchase_UnknownUserIsDomainFailure(t *testing.T) {
	r, _, _ := newFixture(t)

	res, err := r.Execute(context.Background(), "add_purchase", Call{UserID: "ghost", ChatID: "c"},
		json.RawMessage(`{"name":"Phone","price":1,"category":"tech"}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if res["success"] != false || res["error"] == nil {
		t.Errorf("Expected failure result, got %v", res)
	}
}

func TestAddToBlacklist(t *testing.T) {
	r, _, call := newFixture(t)

	res, err := r.Execute(context.Background(), "add_to_blacklist", call, json.RawMessage(`{"category":" Games "}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res["success"] != true || res["category"] != "Games" {
		t.Errorf("Unexpected result: %v", res)
	}
	if list, _ := res["blacklist"].([]string); len(list) != 2 {
		t.Errorf("Expected 2 categories, got %v", res["blacklist"])
	}

	res, _ = r.Execute(context.Background(), "add_to_blacklist", call, json.RawMessage(`{"category":"alcohol"}`))
	if res["success"] != false {
		t.Errorf("Expected duplicate to fail, got %v", res)
	}
}

func TestUpdateSavings(t *testing.T) {
	r, store, call := newFixture(t)

	res, err := r.Execute(context.Background(), "update_savings", call, json.RawMessage(`{"amount":5000}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res["success"] != true || res["current_savings"] != int64(5000) {
		t.Errorf("Unexpected result: %v", res)
	}

	u, _ := store.GetUser(context.Background(), call.UserID)
	if u.CurrentSavings != 5000 {
		t.Errorf("Expected savings 5000, got %d", u.CurrentSavings)
	}

	if _, err := r.Execute(context.Background(), "update_savings", call, json.RawMessage(`{"amount":-1}`)); err == nil {
		t.Error("Expected negative amount to fail validation")
	}
}

func TestManager_NoToolCalls(t *testing.T) {
	r, _, call := newFixture(t)
	llm := &MockCompleter{ExecuteFunc: func(ctx context.Context, role string, req *provider.Request) (*provider.Response, error) {
		if role != provider.ClientTools {
			t.Errorf("Expected tools client, got %s", role)
		}
		if req.ToolChoice != "auto" || len(req.Tools) != 3 {
			t.Errorf("Expected auto choice with 3 tools, got %q/%d", req.ToolChoice, len(req.Tools))
		}
		return &provider.Response{Content: "no tools needed"}, nil
	}}
	m := NewManager(r, llm, nil, metrics.NewNop())

	in := []provider.Message{{Role: provider.RoleUser, Content: "hello"}}
	out, err := m.ProcessWithTools(context.Background(), in, "gpt-4o-mini", call)
	if err != nil {
		t.Fatalf("ProcessWithTools failed: %v", err)
	}
	if len(out) != 1 || out[0].Content != "hello" {
		t.Errorf("Expected history unchanged, got %+v", out)
	}
}

func TestManager_ExecutesCallsInOrder(t *testing.T) {
	r, _, call := newFixture(t)
	llm := &MockCompleter{ExecuteFunc: func(ctx context.Context, role string, req *provider.Request) (*provider.Response, error) {
		return &provider.Response{ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "update_savings", Arguments: `{"amount":100}`},
			{ID: "c2", Name: "missing_tool", Arguments: `{}`},
			{ID: "c3", Name: "add_to_blacklist", Arguments: `{"category":"games"}`},
		}}, nil
	}}
	m := NewManager(r, llm, nil, nil)

	out, err := m.ProcessWithTools(context.Background(),
		[]provider.Message{{Role: provider.RoleUser, Content: "hi"}}, "gpt-4o-mini", call)
	if err != nil {
		t.Fatalf("ProcessWithTools failed: %v", err)
	}

	if len(out) != 5 {
		t.Fatalf("Expected user + assistant + 3 tool messages, got %d", len(out))
	}
	if out[1].Role != provider.RoleAssistant || len(out[1].ToolCalls) != 3 {
		t.Errorf("Expected assistant tool-call turn, got %+v", out[1])
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if out[i+2].ToolCallID != id || out[i+2].Role != provider.RoleTool {
			t.Errorf("Expected tool message %s at %d, got %+v", id, i+2, out[i+2].Message)
		}
	}

	if !strings.HasPrefix(out[3].Content, "tool execution error:") || out[3].Metadata != nil {
		t.Errorf("Expected error content without metadata, got %+v", out[3])
	}
	if len(out[2].Metadata) != 1 || out[2].Metadata[0].ToolName != "update_savings" {
		t.Errorf("Expected metadata for update_savings, got %+v", out[2].Metadata)
	}
	if out[2].Metadata[0].Arguments["amount"] != float64(100) {
		t.Errorf("Expected decoded arguments, got %v", out[2].Metadata[0].Arguments)
	}

	if got := Invocations(out); len(got) != 2 {
		t.Errorf("Expected 2 invocations, got %d", len(got))
	}
	stripped := Strip(out)
	if len(stripped) != 5 || stripped[2].ToolCallID != "c1" {
		t.Errorf("Unexpected stripped messages: %+v", stripped)
	}
}

func TestManager_UpstreamError(t *testing.T) {
	r, _, call := newFixture(t)
	llm := &MockCompleter{ExecuteFunc: func(ctx context.Context, role string, req *provider.Request) (*provider.Response, error) {
		return nil, errors.New("tools model down")
	}}
	m := NewManager(r, llm, nil, nil)

	if _, err := m.ProcessWithTools(context.Background(), nil, "gpt-4o-mini", call); err == nil {
		t.Error("Expected error from tools model")
	}
}
