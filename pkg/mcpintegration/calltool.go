package mcpintegration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentbe/agentbe-go/pkg/chat"
)

// ToolCaller adapts a Session to chat.MCPSession, applying the §4.10.e
// text-extraction rule: concatenate the text field of each content part,
// stringifying any part that has none.
type ToolCaller struct {
	Session Session
}

func (t ToolCaller) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := t.Session.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, part := range result.Content {
		if text, ok := part.(mcp.TextContent); ok {
			sb.WriteString(text.Text)
			continue
		}
		sb.WriteString(fmt.Sprintf("%v", part))
	}
	return sb.String(), nil
}

// ToolDefs converts MCP tool definitions into the shape the chat loop's
// completion API expects (§9 design notes), round-tripping InputSchema
// through JSON since mcp.Tool carries a typed schema struct rather than
// a plain map.
func ToolDefs(tools []mcp.Tool) ([]chat.ToolDef, error) {
	out := make([]chat.ToolDef, 0, len(tools))
	for _, t := range tools {
		schema := map[string]any{"type": "object", "properties": map[string]any{}}
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("mcpintegration: marshal input schema for tool %q: %w", t.Name, err)
		}
		if len(raw) > 0 {
			var decoded map[string]any
			if err := json.Unmarshal(raw, &decoded); err == nil && len(decoded) > 0 {
				schema = decoded
			}
		}
		out = append(out, chat.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out, nil
}
