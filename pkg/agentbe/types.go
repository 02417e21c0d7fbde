// Package agentbe defines the shared types, error kinds, and the Backend
// contract implemented by the memory, local-filesystem, and
// remote-filesystem backends.
package agentbe

import "time"

// Version is the client library version.
const Version = "0.9.0"

// BackendType identifies which implementation a Backend instance wraps.
type BackendType string

const (
	BackendTypeMemory           BackendType = "memory"
	BackendTypeLocalFilesystem  BackendType = "local-filesystem"
	BackendTypeRemoteFilesystem BackendType = "remote-filesystem"
)

// ConnectionStatus is the connection-lifecycle state of a backend.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDestroyed    ConnectionStatus = "destroyed"
)

// StatusChangeEvent describes a single connection-status transition.
type StatusChangeEvent struct {
	From      ConnectionStatus
	To        ConnectionStatus
	Err       error
	Timestamp time.Time
}

// IsolationMode selects how aggressively a local backend sandboxes exec
// calls. The core does not implement isolation itself (§1 Non-goals); the
// value is carried through to whatever daemon or OS-level sandboxer is
// wired up by the caller.
type IsolationMode string

const (
	IsolationNone    IsolationMode = "none"
	IsolationProcess IsolationMode = "process"
)

// ShellPreference selects the shell a local or remote exec call runs
// under.
type ShellPreference string

const (
	ShellAuto ShellPreference = "auto"
	ShellBash ShellPreference = "bash"
	ShellSh   ShellPreference = "sh"
)

// Encoding selects how exec/read results are returned to the caller.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingBuffer Encoding = "buffer"
)

// ExecOptions customizes a single Exec call.
type ExecOptions struct {
	Cwd      string
	Env      map[string]string
	Encoding Encoding
}

// ReadOptions customizes a single Read call.
type ReadOptions struct {
	Encoding Encoding
}

// RmOptions customizes a single Rm call.
type RmOptions struct {
	Recursive bool
	Force     bool
}

// MkdirOptions customizes a single Mkdir call.
type MkdirOptions struct {
	Recursive bool
}

// FileStat is the result of a Stat call.
type FileStat struct {
	IsFile      bool
	IsDirectory bool
	Size        uint64
	Modified    time.Time
}

// ScopeConfig customizes a scoped sub-backend.
type ScopeConfig struct {
	// PreventDangerous sets the scope's own dangerous-command guard. Nil
	// inherits the parent's setting. The parent's Exec still applies the
	// parent's guard, so false does not switch off a guard the parent has.
	PreventDangerous *bool
}

// ReconnectionConfig governs the exponential-backoff reconnection policy
// of a remote backend (C5).
type ReconnectionConfig struct {
	Enabled           bool
	MaxRetries        int // 0 = unbounded
	InitialDelayMs    int
	MaxDelayMs        int
	BackoffMultiplier float64
}

// DefaultReconnectionConfig mirrors the teacher-grade defaults used by the
// reference CLI harness.
func DefaultReconnectionConfig() ReconnectionConfig {
	return ReconnectionConfig{
		Enabled:           true,
		MaxRetries:        0,
		InitialDelayMs:    1000,
		MaxDelayMs:        30000,
		BackoffMultiplier: 2,
	}
}

// KeepaliveConfig governs the SSH keepalive policy of the remote
// transport (C3).
type KeepaliveConfig struct {
	IntervalMs     int
	CountThreshold int
}

// MemoryBackendConfig configures memory.Backend.
type MemoryBackendConfig struct {
	RootDir string
}

// LocalFilesystemBackendConfig configures local.Backend.
type LocalFilesystemBackendConfig struct {
	RootDir          string
	Isolation        IsolationMode
	Shell            ShellPreference
	PreventDangerous bool
	MaxOutputLength  int
}

// RemoteFilesystemBackendConfig configures remote.Backend.
type RemoteFilesystemBackendConfig struct {
	RootDir               string
	Host                  string
	Port                  int
	MCPPort               int
	MCPServerHostOverride string
	AuthToken             string
	OperationTimeoutMs    int
	Keepalive             KeepaliveConfig
	Reconnection          ReconnectionConfig
	PreventDangerous      bool
	MaxOutputLength       int
}
