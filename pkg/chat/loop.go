package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/agentbe/agentbe-go/pkg/logger"
)

// maxInnerIterations bounds the agentic inner loop per user turn (§4.10,
// Scenario D).
const maxInnerIterations = 15

// argsDisplayLimit and resultDisplayLimit are the terminal-display
// truncation points (§4.10's Display contract, §8 Scenario E). Neither
// limit affects what is stored in message history — only what is
// printed.
const (
	argsDisplayLimit   = 120
	resultDisplayLimit = 200
)

// MCPSession is the narrow surface the loop needs from an MCP session:
// invoke a tool by name and get back its concatenated text content.
type MCPSession interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Loop drives one interactive chat session against a StreamingClient and
// an MCPSession, restoring py/examples/PyBasic/chat.py's run_chat.
type Loop struct {
	Client  StreamingClient
	Model   string
	Tools   []ToolDef
	Session MCPSession
	Out     io.Writer
}

// Run reads lines from in until "exit" or EOF, driving one agentic turn
// per non-empty line.
func (l *Loop) Run(ctx context.Context, in io.Reader) error {
	fmt.Fprint(l.Out, "Type \"exit\" to quit.\n\n")

	scanner := bufio.NewScanner(in)
	var messages []Message

	for {
		fmt.Fprint(l.Out, "you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "exit") {
			break
		}
		if line == "" {
			continue
		}

		messages = append(messages, Message{Role: RoleUser, Content: line})
		fmt.Fprint(l.Out, "\n...\r")

		updated, err := l.runTurn(ctx, messages)
		if err != nil {
			return err
		}
		messages = updated

		fmt.Fprint(l.Out, "\n\n")
	}
	return scanner.Err()
}

// runTurn runs the §4.10 agentic inner loop for one user turn, bounded
// at maxInnerIterations, and returns the updated message history.
func (l *Loop) runTurn(ctx context.Context, messages []Message) ([]Message, error) {
	for i := 0; i < maxInnerIterations; i++ {
		assistantMsg, err := l.streamOneCompletion(ctx, messages)
		if err != nil {
			return nil, err
		}
		messages = append(messages, assistantMsg)

		if len(assistantMsg.ToolCalls) == 0 {
			return messages, nil
		}

		for _, tc := range assistantMsg.ToolCalls {
			resultText, err := l.invokeTool(ctx, tc)
			if err != nil {
				return nil, err
			}
			messages = append(messages, Message{
				Role:       RoleTool,
				ToolCallID: tc.ID,
				Content:    resultText,
			})
		}
	}
	return messages, nil
}

// streamOneCompletion opens one streaming completion and reassembles its
// deltas into a single assistant Message (§4.10.b-c).
func (l *Loop) streamOneCompletion(ctx context.Context, messages []Message) (Message, error) {
	stream, err := l.Client.OpenStream(ctx, l.Model, messages, l.Tools)
	if err != nil {
		return Message{}, fmt.Errorf("chat: open stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	toolCalls := make(map[int]*ToolCall)
	hasOutput := false

	for {
		chunk, done, err := stream.Next()
		if err != nil {
			return Message{}, fmt.Errorf("chat: read stream: %w", err)
		}
		if done {
			break
		}

		if chunk.Content != "" {
			if !hasOutput {
				l.writeAssistantPrefix()
				hasOutput = true
			}
			fmt.Fprint(l.Out, chunk.Content)
			content.WriteString(chunk.Content)
		}

		for _, d := range chunk.ToolCalls {
			tc, ok := toolCalls[d.Index]
			if !ok {
				tc = &ToolCall{}
				toolCalls[d.Index] = tc
			}
			if d.ID != "" {
				tc.ID = d.ID
			}
			if d.Name != "" {
				tc.Name = d.Name
			}
			if d.ArgumentsFragment != "" {
				tc.Arguments += d.ArgumentsFragment
			}
		}
	}

	msg := Message{Role: RoleAssistant}
	if content.Len() > 0 {
		msg.Content = content.String()
	}
	if len(toolCalls) > 0 {
		indices := make([]int, 0, len(toolCalls))
		for idx := range toolCalls {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			msg.ToolCalls = append(msg.ToolCalls, *toolCalls[idx])
		}
	}
	return msg, nil
}

// writeAssistantPrefix mirrors the Python original's
// "\x1b[2K\rassistant> " line-clear-and-prefix sequence.
func (l *Loop) writeAssistantPrefix() {
	fmt.Fprint(l.Out, "\x1b[2K\rassistant> ")
}

// invokeTool parses tc.Arguments (empty string means an empty object,
// §4.10.e), dispatches through the MCP session, displays the truncated
// call and result, and returns the full (untruncated) result text.
func (l *Loop) invokeTool(ctx context.Context, tc ToolCall) (string, error) {
	args := map[string]any{}
	if strings.TrimSpace(tc.Arguments) != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return "", fmt.Errorf("chat: parse arguments for tool %q: %w", tc.Name, err)
		}
	}

	argsJSON, _ := json.Marshal(args)
	fmt.Fprintf(l.Out, "  [%s] %s\n", tc.Name, truncate(string(argsJSON), argsDisplayLimit))

	if l.Session == nil {
		return "", errors.New("chat: no MCP session configured")
	}
	// traceID correlates this invocation's log lines even when the model
	// reuses a tool_call id across retries within the same turn.
	traceID := uuid.NewString()
	logger.Debugf("chat: invoking tool %q (tool_call=%s trace=%s)", tc.Name, tc.ID, traceID)
	resultText, err := l.Session.CallTool(ctx, tc.Name, args)
	if err != nil {
		logger.Warnf("chat: tool %q failed (trace=%s): %v", tc.Name, traceID, err)
		return "", fmt.Errorf("chat: call tool %q: %w", tc.Name, err)
	}

	fmt.Fprintf(l.Out, "\n  => %s", truncate(resultText, resultDisplayLimit))
	return resultText, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
