package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/vnmchuo/assistant-queue/internal/provider"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, Nebius, Gemini's compatibility layer).
type OpenAIProvider struct {
	name    string
	baseURL string
	keys    *KeyRing
}

// New builds a provider. apiKeys may hold several comma-separated keys; each
// call rotates through them on failure.
func New(name, apiKeys, baseURL string) *OpenAIProvider {
	baseURL = strings.TrimRight(baseURL, "/")
	return &OpenAIProvider{
		name:    name,
		baseURL: baseURL,
		keys: NewKeyRing(apiKeys, func(key string) *goopenai.Client {
			cfg := goopenai.DefaultConfig(key)
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}
			return goopenai.NewClientWithConfig(cfg)
		}),
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	chatReq := mapRequest(req)

	var resp goopenai.ChatCompletionResponse
	err := p.keys.Try(ctx, func(c *goopenai.Client) error {
		var err error
		resp, err = c.CreateChatCompletion(ctx, chatReq)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s api error: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s api returned no choices", p.name)
	}

	msg := resp.Choices[0].Message
	out := &provider.Response{
		ID:           resp.ID,
		Content:      msg.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
		Provider:     p.name,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *OpenAIProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	chatReq := mapRequest(req)
	chatReq.Stream = true

	var stream *goopenai.ChatCompletionStream
	err := p.keys.Try(ctx, func(c *goopenai.Client) error {
		var err error
		stream, err = c.CreateChatCompletionStream(ctx, chatReq)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s api error: %w", p.name, err)
	}

	ch := make(chan *provider.Chunk)

	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				select {
				case ch <- &provider.Chunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				select {
				case ch <- &provider.Chunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			if len(resp.Choices) > 0 {
				content := resp.Choices[0].Delta.Content
				if content != "" {
					select {
					case ch <- &provider.Chunk{Delta: content}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

func mapRequest(req *provider.Request) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = mapMessage(m)
	}

	out := goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if len(req.Tools) > 0 {
		out.Tools = mapTools(req.Tools)
		if req.ToolChoice != "" {
			out.ToolChoice = req.ToolChoice
		}
	}
	return out
}

func mapMessage(m provider.Message) goopenai.ChatCompletionMessage {
	msg := goopenai.ChatCompletionMessage{
		Role:       m.Role,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	if len(m.Parts) > 0 {
		msg.MultiContent = mapParts(m.Parts)
	} else {
		msg.Content = m.Content
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
			ID:   tc.ID,
			Type: goopenai.ToolTypeFunction,
			Function: goopenai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// mapParts converts multi-part content. The compatible APIs only accept
// image URLs natively; other media is passed as a labelled text reference.
func mapParts(parts []provider.ContentPart) []goopenai.ChatMessagePart {
	out := make([]goopenai.ChatMessagePart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "text":
			out = append(out, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case "image_url":
			out = append(out, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: part.URL},
			})
		default:
			label := strings.TrimSuffix(part.Type, "_url")
			out = append(out, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText,
				Text: fmt.Sprintf("[%s] %s", label, part.URL),
			})
		}
	}
	return out
}

func mapTools(defs []provider.ToolDef) []goopenai.Tool {
	tools := make([]goopenai.Tool, len(defs))
	for i, def := range defs {
		var params map[string]any
		if err := json.Unmarshal(def.Parameters, &params); err != nil {
			params = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		tools[i] = goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		}
	}
	return tools
}
