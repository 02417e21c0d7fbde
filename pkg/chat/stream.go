package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ToolCallDelta is one fragment of a streamed tool-call. Every field but
// Index is optional: a single tool call typically arrives as several
// deltas, each filling in one more piece (§4.10.b).
type ToolCallDelta struct {
	Index             int
	ID                string
	Name              string
	ArgumentsFragment string
}

// StreamChunk is one item yielded by a Stream: a fragment of assistant
// text content, zero or more tool-call deltas, or both.
type StreamChunk struct {
	Content   string
	ToolCalls []ToolCallDelta
}

// Stream yields StreamChunk values until the underlying completion
// finishes. Next returns (chunk, false, nil) for each chunk; the done
// bool is true exactly when the stream has no more chunks, matching the
// io.Reader-adjacent convention the teacher's codebase uses for
// line-oriented readers (bufio.Scanner's Scan/Err split, here folded
// into a single call since each chunk needs its own error check).
type Stream interface {
	Next() (chunk StreamChunk, done bool, err error)
	Close() error
}

// StreamingClient opens a streaming chat completion. The underlying LLM
// HTTP API is treated as an opaque streaming client (§1 Non-goals);
// OpenRouterClient is one concrete, swappable implementation.
type StreamingClient interface {
	OpenStream(ctx context.Context, model string, messages []Message, tools []ToolDef) (Stream, error)
}

// OpenRouterClient is a minimal SSE client for the OpenAI-compatible
// streaming chat-completions wire format used by openrouter.ai, the
// completion provider named in §6 (OPENROUTER_API_KEY). No example repo
// in the pack parses this SSE dialect, and the API itself is explicitly
// out of scope (§1) — only the StreamingClient interface it implements
// matters to the core, so this client is built on net/http + bufio
// rather than pulled in as a dependency.
type OpenRouterClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewOpenRouterClient creates a client against the standard OpenRouter
// base URL.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		BaseURL: "https://openrouter.ai/api/v1",
		APIKey:  apiKey,
		HTTP:    http.DefaultClient,
	}
}

func (c *OpenRouterClient) OpenStream(ctx context.Context, model string, messages []Message, tools []ToolDef) (Stream, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:    model,
		Messages: toWireMessages(messages),
		Tools:    toWireTools(tools),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("chat: build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: completion request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat: completion request failed: %s: %s", resp.Status, string(b))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), sseMaxLineBytes)
	return &sseStream{scanner: scanner, body: resp.Body}, nil
}

// sseMaxLineBytes raises bufio.Scanner's default 64KB line limit: a
// single SSE data line can carry a large tool-call-arguments fragment or
// content delta in one chunk.
const sseMaxLineBytes = 1024 * 1024

type sseStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
}

func (s *sseStream) Next() (StreamChunk, bool, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return StreamChunk{}, true, nil
		}

		var wire chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &wire); err != nil {
			return StreamChunk{}, false, fmt.Errorf("chat: decode stream chunk: %w", err)
		}
		if len(wire.Choices) == 0 {
			continue
		}
		delta := wire.Choices[0].Delta
		chunk := StreamChunk{Content: delta.Content}
		for _, tc := range delta.ToolCalls {
			d := ToolCallDelta{Index: tc.Index, ID: tc.ID}
			if tc.Function != nil {
				d.Name = tc.Function.Name
				d.ArgumentsFragment = tc.Function.Arguments
			}
			chunk.ToolCalls = append(chunk.ToolCalls, d)
		}
		return chunk, false, nil
	}
	if err := s.scanner.Err(); err != nil {
		return StreamChunk{}, false, err
	}
	return StreamChunk{}, true, nil
}

func (s *sseStream) Close() error { return s.body.Close() }

// Wire types mirror the OpenAI-compatible chat-completions SSE payload
// shape (§6's message-history format, plus the tool_calls delta shape
// used by py/examples/PyBasic/chat.py).

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireToolDef `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolDef struct {
	Type     string             `json:"type"`
	Function wireToolDefPayload `json:"function"`
}

type wireToolDefPayload struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta wireDelta `json:"delta"`
	} `json:"choices"`
}

type wireDelta struct {
	Content   string `json:"content"`
	ToolCalls []struct {
		Index    int    `json:"index"`
		ID       string `json:"id"`
		Function *struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

func toWireMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireToolFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []ToolDef) []wireToolDef {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireToolDef, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, wireToolDef{
			Type: "function",
			Function: wireToolDefPayload{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
