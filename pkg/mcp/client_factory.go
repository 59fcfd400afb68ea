package mcp

import (
	"context"

	"github.com/tachikoma-dev/tachikoma/pkg/masking"
	"github.com/tachikoma-dev/tachikoma/pkg/primitive"
)

// ClientFactory creates Client instances and discovers the primitives they
// back.
type ClientFactory struct {
	registry       *Registry
	maskingService *masking.Service

	// createClientFn, when set, replaces the real Initialize() transport
	// path — used by NewTestClientFactory to inject in-memory sessions.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a new factory. maskingService may be nil
// (masking disabled).
func NewClientFactory(registry *Registry, maskingService *masking.Service) *ClientFactory {
	return &ClientFactory{registry: registry, maskingService: maskingService}
}

// CreateClient creates a new Client connected to the specified servers.
// The caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}
	client := newClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close() // Clean up partial initialization
		return nil, err
	}
	return client, nil
}

// CreatePrimitives connects to serverIDs and returns the discovered tools
// wrapped as primitive.Primitive, ready for primitive.Registry.Register.
// The caller owns the returned Client's lifecycle and must Close it.
func (f *ClientFactory) CreatePrimitives(
	ctx context.Context,
	serverIDs []string,
	toolFilter map[string][]string,
) ([]primitive.Primitive, *Client, error) {
	client, err := f.CreateClient(ctx, serverIDs)
	if err != nil {
		return nil, nil, err
	}
	prims, err := DiscoverPrimitives(ctx, client, f.registry, serverIDs, toolFilter, f.maskingService)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return prims, client, nil
}
