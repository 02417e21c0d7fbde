package chat

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream replays a fixed sequence of chunks, one per Next() call.
type fakeStream struct {
	chunks []StreamChunk
	i      int
}

func (s *fakeStream) Next() (StreamChunk, bool, error) {
	if s.i >= len(s.chunks) {
		return StreamChunk{}, true, nil
	}
	c := s.chunks[s.i]
	s.i++
	return c, false, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeClient returns one fakeStream per call from a queue, so a test can
// script what each inner-loop iteration streams back.
type fakeClient struct {
	streams []*fakeStream
	i       int
	opened  [][]Message
}

func (c *fakeClient) OpenStream(_ context.Context, _ string, messages []Message, _ []ToolDef) (Stream, error) {
	c.opened = append(c.opened, messages)
	if c.i >= len(c.streams) {
		return &fakeStream{}, nil
	}
	s := c.streams[c.i]
	c.i++
	return s, nil
}

type fakeSession struct {
	calls   []struct{ name string; args map[string]any }
	results map[string]string
}

func (s *fakeSession) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	s.calls = append(s.calls, struct {
		name string
		args map[string]any
	}{name, args})
	return s.results[name], nil
}

// Scenario A: text only, no tool calls.
func TestRunTurn_ScenarioA_TextOnly(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{
		{chunks: []StreamChunk{{Content: "Hel"}, {Content: "lo"}, {Content: " world"}}},
	}}
	loop := &Loop{Client: client, Out: &bytes.Buffer{}}

	messages, err := loop.runTurn(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello world", messages[1].Content)
	assert.Empty(t, messages[1].ToolCalls)
	assert.Equal(t, 1, client.i, "inner loop must exit after one iteration with no tool calls")
}

// Scenario B: single tool call split across chunks.
func TestRunTurn_ScenarioB_SplitToolCall(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{
		{chunks: []StreamChunk{
			{ToolCalls: []ToolCallDelta{{Index: 0, ID: "t1"}}},
			{ToolCalls: []ToolCallDelta{{Index: 0, Name: "read"}}},
			{ToolCalls: []ToolCallDelta{{Index: 0, ArgumentsFragment: `{"pa`}}},
			{ToolCalls: []ToolCallDelta{{Index: 0, ArgumentsFragment: `th":"a.txt"}`}}},
		}},
		{chunks: []StreamChunk{{Content: "done"}}},
	}}
	session := &fakeSession{results: map[string]string{"read": "file contents"}}
	loop := &Loop{Client: client, Session: session, Out: &bytes.Buffer{}}

	messages, err := loop.runTurn(context.Background(), []Message{{Role: RoleUser, Content: "read a.txt"}})
	require.NoError(t, err)

	require.Len(t, messages[1].ToolCalls, 1)
	tc := messages[1].ToolCalls[0]
	assert.Equal(t, "t1", tc.ID)
	assert.Equal(t, "read", tc.Name)
	assert.Equal(t, `{"path":"a.txt"}`, tc.Arguments)

	require.Len(t, session.calls, 1)
	assert.Equal(t, "read", session.calls[0].name)
	assert.Equal(t, map[string]any{"path": "a.txt"}, session.calls[0].args)

	require.Len(t, messages, 4)
	toolMsg := messages[2]
	assert.Equal(t, RoleTool, toolMsg.Role)
	assert.Equal(t, "t1", toolMsg.ToolCallID)
	assert.Equal(t, "file contents", toolMsg.Content)
}

// Scenario C: two concurrent tool calls, out-of-order indices.
func TestRunTurn_ScenarioC_OutOfOrderIndicesSortedOnAssembly(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{
		{chunks: []StreamChunk{
			{ToolCalls: []ToolCallDelta{{Index: 1, ID: "t2", Name: "b"}}},
			{ToolCalls: []ToolCallDelta{{Index: 0, ID: "t1", Name: "a"}}},
		}},
		{chunks: []StreamChunk{{Content: "done"}}},
	}}
	session := &fakeSession{results: map[string]string{"a": "ra", "b": "rb"}}
	loop := &Loop{Client: client, Session: session, Out: &bytes.Buffer{}}

	messages, err := loop.runTurn(context.Background(), []Message{{Role: RoleUser, Content: "go"}})
	require.NoError(t, err)

	require.Len(t, messages[1].ToolCalls, 2)
	assert.Equal(t, "t1", messages[1].ToolCalls[0].ID)
	assert.Equal(t, "t2", messages[1].ToolCalls[1].ID)

	require.Len(t, session.calls, 2)
	assert.Equal(t, "a", session.calls[0].name)
	assert.Equal(t, "b", session.calls[1].name)
}

// Scenario D: inner-loop bound — a pathological model always returns a
// tool call, so the loop stops after exactly 15 iterations.
func TestRunTurn_ScenarioD_StopsAfterFifteenIterations(t *testing.T) {
	streams := make([]*fakeStream, 0, maxInnerIterations)
	for i := 0; i < maxInnerIterations; i++ {
		streams = append(streams, &fakeStream{chunks: []StreamChunk{
			{ToolCalls: []ToolCallDelta{{Index: 0, ID: "t", Name: "loopy", ArgumentsFragment: "{}"}}},
		}})
	}
	client := &fakeClient{streams: streams}
	session := &fakeSession{results: map[string]string{"loopy": "again"}}
	loop := &Loop{Client: client, Session: session, Out: &bytes.Buffer{}}

	messages, err := loop.runTurn(context.Background(), []Message{{Role: RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, maxInnerIterations, client.i)

	assistantCount := 0
	for _, m := range messages {
		if m.Role == RoleAssistant {
			assistantCount++
		}
	}
	assert.Equal(t, maxInnerIterations, assistantCount)
}

// Scenario E: tool result truncation on display, full text stored.
func TestInvokeTool_ScenarioE_DisplayTruncatedStorageFull(t *testing.T) {
	longResult := strings.Repeat("x", 5000)
	session := &fakeSession{results: map[string]string{"dump": longResult}}
	out := &bytes.Buffer{}
	loop := &Loop{Session: session, Out: out}

	result, err := loop.invokeTool(context.Background(), ToolCall{ID: "t1", Name: "dump", Arguments: "{}"})
	require.NoError(t, err)
	assert.Equal(t, longResult, result, "full text must be returned for storage, not the truncated display form")
	assert.Contains(t, out.String(), "  => "+strings.Repeat("x", 200)+"...")
}

func TestInvokeTool_EmptyArgumentsBecomeEmptyObject(t *testing.T) {
	session := &fakeSession{results: map[string]string{"noop": "ok"}}
	loop := &Loop{Session: session, Out: &bytes.Buffer{}}

	_, err := loop.invokeTool(context.Background(), ToolCall{ID: "t1", Name: "noop", Arguments: ""})
	require.NoError(t, err)
	require.Len(t, session.calls, 1)
	assert.Equal(t, map[string]any{}, session.calls[0].args)
}
