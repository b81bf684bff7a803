// Package mcp bridges tools exposed by external MCP servers into tenant
// function registries, so the model can call them like native functions.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Wandeon/meta-chat-platform/internal/domain/function"
)

// Bridge holds one connected MCP server whose tools are exported as
// function definitions.
type Bridge struct {
	url    string
	client *mcpclient.Client
	logger *slog.Logger
}

// Connect dials the MCP server over streamable HTTP, performs the protocol
// handshake and returns a ready Bridge.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mcpclient.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("create mcp client for %s: %w", url, err)
	}
	if err := client.Start(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("start mcp transport for %s: %w", url, err)
	}

	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{
		Name:    "metachat",
		Version: "1.0.0",
	}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", url, err)
	}

	return &Bridge{url: url, client: client, logger: logger}, nil
}

// Functions discovers the server's tools and wraps each one as a function
// definition whose handler forwards the call over MCP.
func (b *Bridge) Functions(ctx context.Context) ([]function.Definition, error) {
	result, err := b.client.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", b.url, err)
	}

	defs := make([]function.Definition, 0, len(result.Tools))
	for _, tool := range result.Tools {
		defs = append(defs, function.Definition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toolParameters(tool),
			Handler:     b.handler(tool.Name),
		})
	}
	b.logger.Info("mcp tools bridged", "url", b.url, "count", len(defs))
	return defs, nil
}

// Close shuts down the underlying MCP connection.
func (b *Bridge) Close() error {
	return b.client.Close()
}

func (b *Bridge) handler(toolName string) function.Handler {
	return func(ctx context.Context, args any, _ function.Context) (string, error) {
		req := mcplib.CallToolRequest{}
		req.Params.Name = toolName
		req.Params.Arguments = args

		result, err := b.client.CallTool(ctx, req)
		if err != nil {
			return "", fmt.Errorf("call mcp tool %s: %w", toolName, err)
		}

		text := flattenContent(result.Content)
		if result.IsError {
			return "", fmt.Errorf("mcp tool %s failed: %s", toolName, text)
		}
		return text, nil
	}
}

// flattenContent joins all text content blocks of a tool result. Non-text
// blocks are rendered as their JSON form so nothing is silently dropped.
func flattenContent(content []mcplib.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcplib.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if raw, err := json.Marshal(c); err == nil {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}

// toolParameters converts the tool's input schema into the generic JSON
// schema map sent to LLM providers.
func toolParameters(tool mcplib.Tool) map[string]any {
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil || len(params) == 0 {
		return map[string]any{"type": "object"}
	}
	return params
}
