// Package envconfig loads the command-line entry point's configuration
// from environment variables through an injectable reader, mirroring the
// teacher's env.Reader/env.OSReader seam (cmd/vmcp/app/commands.go's
// `envReader := &env.OSReader{}` passed into `config.NewYAMLLoader`).
package envconfig

import (
	"fmt"
	"os"
	"strconv"
)

// EnvReader is the narrow seam between configuration loading and the
// process environment, so tests can supply a fake instead of mutating
// os.Environ.
type EnvReader interface {
	Getenv(key string) string
}

// OSEnvReader reads from the real process environment.
type OSEnvReader struct{}

func (OSEnvReader) Getenv(key string) string { return os.Getenv(key) }

// BackendType selects which concrete backend the CLI talks to.
type BackendType string

const (
	BackendLocal  BackendType = "local"
	BackendRemote BackendType = "remote"
	BackendMemory BackendType = "memory"
)

// Config holds the §6 environment-derived settings for cmd/agentbe.
type Config struct {
	OpenRouterAPIKey string
	BackendType      BackendType
	RootDir          string
	Model            string
	RemoteHost       string
	RemotePort       int
	AuthToken        string
}

const (
	defaultModel            = "anthropic/claude-sonnet-4.5"
	defaultRemoteRootDir    = "/var/workspace"
	defaultLocalRootDir     = "/tmp/agentbe-workspace"
	defaultRemoteHost       = "localhost"
	defaultRemotePortString = "3001"
)

// Load reads and validates the §6 environment keys via r. It returns an
// error if OPENROUTER_API_KEY is unset (the CLI exits 1 on this per §6)
// or if REMOTE_PORT is set but not a valid integer.
func Load(r EnvReader) (*Config, error) {
	apiKey := r.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("envconfig: OPENROUTER_API_KEY is required")
	}

	backendType := BackendType(r.Getenv("BACKEND_TYPE"))
	if backendType == "" {
		backendType = BackendLocal
	}
	switch backendType {
	case BackendLocal, BackendRemote, BackendMemory:
	default:
		return nil, fmt.Errorf("envconfig: unknown BACKEND_TYPE %q", backendType)
	}

	rootDir := r.Getenv("ROOT_DIR")
	if rootDir == "" {
		if backendType == BackendRemote {
			rootDir = defaultRemoteRootDir
		} else {
			rootDir = defaultLocalRootDir
		}
	}

	model := r.Getenv("MODEL")
	if model == "" {
		model = defaultModel
	}

	remoteHost := r.Getenv("REMOTE_HOST")
	if remoteHost == "" {
		remoteHost = defaultRemoteHost
	}

	remotePortStr := r.Getenv("REMOTE_PORT")
	if remotePortStr == "" {
		remotePortStr = defaultRemotePortString
	}
	remotePort, err := strconv.Atoi(remotePortStr)
	if err != nil {
		return nil, fmt.Errorf("envconfig: invalid REMOTE_PORT %q: %w", remotePortStr, err)
	}

	return &Config{
		OpenRouterAPIKey: apiKey,
		BackendType:      backendType,
		RootDir:          rootDir,
		Model:            model,
		RemoteHost:       remoteHost,
		RemotePort:       remotePort,
		AuthToken:        r.Getenv("AUTH_TOKEN"),
	}, nil
}
