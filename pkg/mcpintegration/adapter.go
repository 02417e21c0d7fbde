package mcpintegration

import (
	"context"
	"time"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
)

// trackableBackend is the subset of agentbe.Backend the adapter needs to
// build a descriptor and register the opened session for cleanup.
type trackableBackend interface {
	agentbe.MCPTransportDescriptorSource
	TrackCloseable(agentbe.Closeable)
}

// Adapter restores the Python original's VercelAIAdapter (§C.1): given a
// backend, it builds the right transport descriptor and hands back a
// live, initialized MCP session, with its own connection timeout
// distinct from the backend's operation timeout. The session owns the
// transport for its entire lifetime — OpenSession keeps both alive via a
// single *client.Client value, so there is nothing for the adapter to
// leak once Open returns.
type Adapter struct {
	backend           trackableBackend
	scopePath         string
	connectionTimeout time.Duration
}

// New creates an Adapter over backend. scopePath is forwarded as the
// X-Scope-Path header for remote backends; connectionTimeout of zero
// uses DefaultConnectionTimeout.
func New(backend trackableBackend, scopePath string, connectionTimeout time.Duration) *Adapter {
	return &Adapter{backend: backend, scopePath: scopePath, connectionTimeout: connectionTimeout}
}

// Open builds a transport descriptor for the adapter's backend, opens an
// initialized MCP session against it, tracks the session as a closeable
// on the backend (so Backend.Destroy closes it transitively), and
// returns it.
func (a *Adapter) Open(ctx context.Context) (Session, error) {
	descriptor, err := NewDescriptor(a.backend, a.scopePath)
	if err != nil {
		return nil, err
	}

	session, err := OpenSession(ctx, descriptor, a.connectionTimeout)
	if err != nil {
		return nil, err
	}

	a.backend.TrackCloseable(session)
	return session, nil
}
