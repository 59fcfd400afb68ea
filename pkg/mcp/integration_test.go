package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachikoma-dev/tachikoma/pkg/config"
	"github.com/tachikoma-dev/tachikoma/pkg/services"
)

// TestIntegration_E2E_ToolExecution tests the full discovery → call pipeline:
// DiscoverPrimitives → toolPrimitive.Execute → Client.CallTool → result.
func TestIntegration_E2E_ToolExecution(t *testing.T) {
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			var parsed map[string]any
			if err := json.Unmarshal(req.Params.Arguments, &parsed); err != nil {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "parse error: " + err.Error()}},
					IsError: true,
				}, nil
			}
			ns, _ := parsed["namespace"].(string)
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{
					Text: "pods in namespace " + ns + ": pod-1, pod-2",
				}},
			}, nil
		},
	})

	registry := NewRegistry(nil)
	client := newClient(registry)
	wireSession(t, client, "kubernetes", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })

	prims, err := DiscoverPrimitives(context.Background(), client, registry, []string{"kubernetes"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, prims, 1)

	out, err := prims[0].Execute(context.Background(), nil, []byte(`{"namespace":"default"}`))
	require.NoError(t, err)
	content := out.(map[string]any)["content"].(string)
	assert.Contains(t, content, "pods in namespace default")
	assert.Contains(t, content, "pod-1, pod-2")
}

// TestIntegration_MultiServer_Routing tests tool discovery across multiple servers.
func TestIntegration_MultiServer_Routing(t *testing.T) {
	k8sServer := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "k8s: pods"}}}, nil
		},
	})
	ghServer := startTestServer(t, "github", map[string]mcpsdk.ToolHandler{
		"list_repos": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "gh: repos"}}}, nil
		},
	})

	registry := NewRegistry(nil)
	client := newClient(registry)
	wireSession(t, client, "kubernetes", k8sServer.clientTransport)
	wireSession(t, client, "github", ghServer.clientTransport)
	t.Cleanup(func() { _ = client.Close() })

	prims, err := DiscoverPrimitives(context.Background(), client, registry, []string{"kubernetes", "github"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, prims, 2)

	names := make([]string, len(prims))
	for i, p := range prims {
		names[i] = p.Name()
	}
	assert.Contains(t, names, "mcp.kubernetes.get_pods")
	assert.Contains(t, names, "mcp.github.list_repos")
}

// TestIntegration_ToolFilter tests that tool filtering works end-to-end.
func TestIntegration_ToolFilter(t *testing.T) {
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pods"}}}, nil
		},
		"delete_pod": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "deleted"}}}, nil
		},
	})

	registry := NewRegistry(nil)
	client := newClient(registry)
	wireSession(t, client, "kubernetes", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })

	filter := map[string][]string{"kubernetes": {"get_pods"}}
	prims, err := DiscoverPrimitives(context.Background(), client, registry, []string{"kubernetes"}, filter, nil)
	require.NoError(t, err)
	require.Len(t, prims, 1)
	assert.Equal(t, "mcp.kubernetes.get_pods", prims[0].Name())
}

// TestIntegration_FailedServers tests failed server tracking through the pipeline.
func TestIntegration_FailedServers(t *testing.T) {
	registry := NewRegistry(nil)
	client := newClient(registry)

	_ = client.Initialize(context.Background(), []string{"broken-server"})

	failed := client.FailedServers()
	assert.Contains(t, failed, "broken-server")
	assert.NotEmpty(t, failed["broken-server"])
}

// TestIntegration_HealthMonitor_Lifecycle tests healthy → failure → recovery lifecycle.
func TestIntegration_HealthMonitor_Lifecycle(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pong"}}}, nil
		},
	})

	registry := NewRegistry(nil)
	warningsSvc := services.NewSystemWarningsService()
	factory := NewClientFactory(registry, nil)
	monitor := NewHealthMonitor(factory, registry, warningsSvc)

	client := newClient(registry)
	wireSession(t, client, "test-server", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client

	monitor.checkServer(context.Background(), "test-server")
	assert.True(t, monitor.IsHealthy())
	assert.Empty(t, warningsSvc.GetWarnings())
	status := monitor.GetStatuses()["test-server"]
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.ToolCount)

	client.mu.Lock()
	if session, exists := client.sessions["test-server"]; exists {
		_ = session.Close()
		delete(client.sessions, "test-server")
		delete(client.clients, "test-server")
	}
	client.mu.Unlock()

	monitor.checkServer(context.Background(), "test-server")
	assert.False(t, monitor.IsHealthy())
	warnings := warningsSvc.GetWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, services.WarningCategoryMCPHealth, warnings[0].Category)
	assert.Equal(t, "test-server", warnings[0].ServerID)

	ts2 := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pong"}}}, nil
		},
	})
	wireSession(t, client, "test-server", ts2.clientTransport)

	monitor.checkServer(context.Background(), "test-server")
	assert.True(t, monitor.IsHealthy())
	assert.Empty(t, warningsSvc.GetWarnings())
}

// wireSession connects a client to an in-memory transport and registers the session.
func wireSession(t *testing.T, client *Client, serverID string, transport *mcpsdk.InMemoryTransport) {
	t.Helper()

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "tachikoma-test", Version: "test",
	}, nil)
	session, err := sdkClient.Connect(context.Background(), transport, nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.sessions[serverID] = session
	client.clients[serverID] = sdkClient
	client.mu.Unlock()
}

// TestIntegration_HealthMonitor_ToolCaching tests that the health monitor populates tool cache.
func TestIntegration_HealthMonitor_ToolCaching(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"tool_a": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "a"}}}, nil
		},
		"tool_b": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "b"}}}, nil
		},
	})

	registry := NewRegistry(map[string]config.MCPServerConfig{
		"test-server": {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "echo"}},
	})
	warningsSvc := services.NewSystemWarningsService()
	factory := NewClientFactory(registry, nil)
	monitor := NewHealthMonitor(factory, registry, warningsSvc)
	monitor.pingTimeout = 5 * time.Second

	client := newClient(registry)
	wireSession(t, client, "test-server", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client

	monitor.checkServer(context.Background(), "test-server")

	cached := monitor.GetCachedTools()
	require.Contains(t, cached, "test-server")
	assert.Len(t, cached["test-server"], 2)
}
