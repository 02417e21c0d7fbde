package agentbe

import "context"

// Closeable is anything the core has handed out that holds external
// resources (MCP sessions, transports). A backend tracks them so Destroy
// is transitive and idempotent.
type Closeable interface {
	Close() error
}

// StatusChangeCallback observes a single connection-status transition.
type StatusChangeCallback func(StatusChangeEvent)

// Unsubscribe removes a previously-registered StatusChangeCallback.
type Unsubscribe func()

// MCPTransportDescriptorSource is the minimal shape the mcpintegration package
// needs from a Backend to build a transport descriptor (C8). It is
// defined here, not in mcpintegration, to avoid an import cycle between
// the backend implementations and the MCP integration layer.
type MCPTransportDescriptorSource interface {
	Type() BackendType
	RootDir() string
	Config() any
}

// Backend is the uniform file-and-exec contract shared by the memory,
// local-filesystem, and remote-filesystem backends, and by any scoped
// sub-backend handed out by one of them (C6/C7).
type Backend interface {
	Type() BackendType
	RootDir() string
	Status() ConnectionStatus
	Config() any

	OnStatusChange(cb StatusChangeCallback) Unsubscribe
	TrackCloseable(c Closeable)

	Exec(ctx context.Context, command string, opts *ExecOptions) (any, error)
	Read(ctx context.Context, path string, opts *ReadOptions) (any, error)
	Write(ctx context.Context, path string, data []byte) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Rm(ctx context.Context, path string, opts *RmOptions) error
	Readdir(ctx context.Context, path string) ([]string, error)
	Mkdir(ctx context.Context, path string, opts *MkdirOptions) error
	Touch(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (FileStat, error)

	Scope(scopePath string, cfg *ScopeConfig) (Backend, error)
	ListActiveScopes() []string

	Destroy(ctx context.Context) error
}

// ParentBackend is the subset of Backend a scoped.Backend needs from its
// parent, plus the child-tracking hooks that back the parent-owns-
// children / child-observes-parent ownership model (§9 design notes).
// Every concrete backend (memory, local, remote) and scoped.Backend
// itself implement it, so scopes can be nested.
type ParentBackend interface {
	Backend

	TrackScope(child Backend)
	UntrackScope(child Backend)
}
