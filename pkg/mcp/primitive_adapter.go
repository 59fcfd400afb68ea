package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tachikoma-dev/tachikoma/pkg/masking"
	"github.com/tachikoma-dev/tachikoma/pkg/primitive"
	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// toolPrimitive adapts one remote MCP tool to the primitive.Primitive
// interface, so the registry's tool catalog can be backed uniformly by
// in-process primitives or by a remote MCP server's tool list.
type toolPrimitive struct {
	client         *Client
	serverID       string
	tool           *mcpsdk.Tool
	maskingService *masking.Service
}

// Name is server-prefixed ("mcp.<serverID>.<toolName>") so two servers
// exposing a tool with the same bare name never collide in the registry.
func (p *toolPrimitive) Name() string {
	return fmt.Sprintf("mcp.%s.%s", p.serverID, p.tool.Name)
}

func (p *toolPrimitive) Description() string { return p.tool.Description }

func (p *toolPrimitive) InputSchema() string { return marshalSchema(p.tool.InputSchema) }

// Execute calls the remote tool and returns its text content, masked.
func (p *toolPrimitive) Execute(ctx context.Context, _ *primitive.ExecContext, rawInput json.RawMessage) (any, error) {
	var params map[string]any
	if len(rawInput) > 0 {
		if err := json.Unmarshal(rawInput, &params); err != nil {
			return nil, terrors.Wrap(terrors.KindValidation, "decode mcp tool arguments", err)
		}
	}

	result, err := p.client.CallTool(ctx, p.serverID, p.tool.Name, params)
	if err != nil {
		return nil, terrors.Wrap(terrors.KindIO, fmt.Sprintf("call mcp tool %s.%s", p.serverID, p.tool.Name), err)
	}

	content := extractTextContent(result)
	if p.maskingService != nil {
		content = p.maskingService.MaskPrimitiveOutput(content)
	}
	if result.IsError {
		return nil, terrors.New(terrors.KindIO, content)
	}
	return map[string]any{"content": content}, nil
}

// DiscoverPrimitives lists tools from every server in registry (or, if
// serverIDs is non-empty, only those) and wraps each as a primitive.
// toolFilter optionally restricts which tool names are exposed per server;
// a nil or empty filter for a server means all its tools are exposed.
func DiscoverPrimitives(
	ctx context.Context,
	client *Client,
	registry *Registry,
	serverIDs []string,
	toolFilter map[string][]string,
	maskingService *masking.Service,
) ([]primitive.Primitive, error) {
	if len(serverIDs) == 0 {
		serverIDs = registry.ServerIDs()
	}

	var prims []primitive.Primitive
	for _, serverID := range serverIDs {
		tools, err := client.ListTools(ctx, serverID)
		if err != nil {
			slog.Warn("failed to list tools from mcp server", "server", serverID, "error", err)
			continue
		}
		filter := toolFilter[serverID]
		for _, tool := range tools {
			if len(filter) > 0 && !slices.Contains(filter, tool.Name) {
				continue
			}
			prims = append(prims, &toolPrimitive{
				client:         client,
				serverID:       serverID,
				tool:           tool,
				maskingService: maskingService,
			})
		}
	}
	return prims, nil
}

// extractTextContent extracts text from an MCP CallToolResult, concatenating
// all TextContent items. Non-text content (images, embedded resources) is
// logged at debug level and skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("mcp tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// marshalSchema serializes a tool's InputSchema to a JSON string.
func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("failed to marshal tool input schema", "error", err)
		return ""
	}
	return string(data)
}
