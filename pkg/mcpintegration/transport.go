// Package mcpintegration builds MCP transport descriptors from a Backend
// (C8) and opens live sessions against them (C9), restoring the
// VercelAIAdapter-equivalent from the Python original (§C.1 of
// SPEC_FULL.md) that none of spec.md's Non-goals exclude.
package mcpintegration

import (
	"fmt"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
)

// Kind tags which arm of the Descriptor sum type is populated.
type Kind string

const (
	KindStdio Kind = "stdio"
	KindHTTP  Kind = "http"
)

// StdioDescriptor spawns the daemon CLI as a subprocess and speaks MCP
// over its stdio streams — used for the memory and local-filesystem
// backends, which have no network endpoint of their own.
type StdioDescriptor struct {
	Command string
	Args    []string
}

// HTTPDescriptor opens a streamable-HTTP MCP session against a daemon
// URL, carrying the bearer token and root/scope headers the daemon uses
// to authorize and route the session.
type HTTPDescriptor struct {
	URL       string
	AuthToken string
	RootDir   string
	ScopePath string
}

// Descriptor is the sum type §9's design notes call for: exactly one of
// Stdio or HTTP is non-nil, selected by Kind.
type Descriptor struct {
	Kind  Kind
	Stdio *StdioDescriptor
	HTTP  *HTTPDescriptor
}

// NewDescriptor builds the transport descriptor suited to src's backend
// type (§4.8). scopePath, when non-empty, is carried through as the
// X-Scope-Path header for remote backends or an extra CLI flag is not
// needed for stdio (the scope lives entirely inside the daemon process
// spawned against RootDir).
func NewDescriptor(src agentbe.MCPTransportDescriptorSource, scopePath string) (*Descriptor, error) {
	switch src.Type() {
	case agentbe.BackendTypeMemory:
		return &Descriptor{
			Kind: KindStdio,
			Stdio: &StdioDescriptor{
				Command: "agent-backend",
				Args:    []string{"--backend", "memory", "--rootDir", src.RootDir()},
			},
		}, nil

	case agentbe.BackendTypeLocalFilesystem:
		args := []string{"daemon", "--rootDir", src.RootDir(), "--local-only"}
		if cfg, ok := src.Config().(agentbe.LocalFilesystemBackendConfig); ok {
			if cfg.Isolation != "" {
				args = append(args, "--isolation", string(cfg.Isolation))
			}
			if cfg.Shell != "" {
				args = append(args, "--shell", string(cfg.Shell))
			}
		}
		return &Descriptor{
			Kind:  KindStdio,
			Stdio: &StdioDescriptor{Command: "agent-backend", Args: args},
		}, nil

	case agentbe.BackendTypeRemoteFilesystem:
		cfg, ok := src.Config().(agentbe.RemoteFilesystemBackendConfig)
		if !ok {
			return nil, fmt.Errorf("mcpintegration: remote backend has unexpected config type %T", src.Config())
		}
		host := cfg.Host
		if cfg.MCPServerHostOverride != "" {
			host = cfg.MCPServerHostOverride
		}
		port := cfg.MCPPort
		if port == 0 {
			port = cfg.Port
		}
		return &Descriptor{
			Kind: KindHTTP,
			HTTP: &HTTPDescriptor{
				URL:       fmt.Sprintf("http://%s:%d", host, port),
				AuthToken: cfg.AuthToken,
				RootDir:   src.RootDir(),
				ScopePath: scopePath,
			},
		}, nil

	default:
		return nil, fmt.Errorf("mcpintegration: unknown backend type %q", src.Type())
	}
}
