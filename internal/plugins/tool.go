package plugins

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/autoflow/internal/capabilities"
)

// remoteTool exposes one tool of an external MCP server as a capability.
type remoteTool struct {
	name     string // registered name
	remote   string // name on the plugin server
	contract capabilities.Schema
	plugin   *managedPlugin
}

func newRemoteTool(p *managedPlugin, t mcp.Tool, highRisk bool) *remoteTool {
	return &remoteTool{
		name:   p.config.Prefix + t.Name,
		remote: t.Name,
		contract: capabilities.Schema{
			Description: t.Description,
			InputSchema: inputSchema(t),
			HighRisk:    highRisk,
		},
		plugin: p,
	}
}

func (t *remoteTool) Name() string                { return t.name }
func (t *remoteTool) Schema() capabilities.Schema { return t.contract }

// Invoke calls the remote tool. Protocol failures and results flagged as
// errors come back as a *capabilities.ToolError.
func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	c := t.plugin.current()
	if c == nil {
		return nil, capabilities.NewToolError(t.name, "plugin %s is %s", t.plugin.config.Name, t.plugin.state())
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.remote
	req.Params.Arguments = args

	res, err := c.CallTool(ctx, req)
	if err != nil {
		t.plugin.recordError(err)
		return nil, capabilities.NewToolError(t.name, "call failed: %s", err.Error()).WithCause(err)
	}
	if res.IsError {
		return nil, capabilities.NewToolError(t.name, "%s", contentText(res.Content))
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}

	text := contentText(res.Content)
	var decoded any
	if json.Unmarshal([]byte(text), &decoded) == nil {
		return decoded, nil
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if s := mcp.GetTextFromContent(c); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// inputSchema extracts the tool's JSON schema as published on the wire.
func inputSchema(t mcp.Tool) json.RawMessage {
	data, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var wire struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if json.Unmarshal(data, &wire) != nil {
		return nil
	}
	return wire.InputSchema
}

var _ capabilities.Capability = (*remoteTool)(nil)
