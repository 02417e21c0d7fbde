package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
	"github.com/agentbe/agentbe-go/pkg/backend/local"
	"github.com/agentbe/agentbe-go/pkg/backend/memory"
	"github.com/agentbe/agentbe-go/pkg/backend/remote"
	"github.com/agentbe/agentbe-go/pkg/chat"
	"github.com/agentbe/agentbe-go/pkg/envconfig"
	"github.com/agentbe/agentbe-go/pkg/logger"
	"github.com/agentbe/agentbe-go/pkg/mcpintegration"
	"github.com/agentbe/agentbe-go/pkg/safety"
)

// statusLabels mirrors PyBasic/main.py's ANSI-colored connection-status
// labels, printed to stderr on each status transition.
var statusLabels = map[agentbe.ConnectionStatus]string{
	agentbe.StatusConnected:    "\x1b[32m connected\x1b[0m",
	agentbe.StatusConnecting:   "\x1b[33m connecting...\x1b[0m",
	agentbe.StatusDisconnected: "\x1b[31m disconnected\x1b[0m",
	agentbe.StatusReconnecting: "\x1b[33m reconnecting...\x1b[0m",
	agentbe.StatusDestroyed:    "\x1b[90m destroyed\x1b[0m",
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive agent chat session",
		Long: `Connects to a backend selected by the BACKEND_TYPE environment variable
(local, remote, or memory), runs a smoke-test file/exec sequence, lists the backend's
MCP tools, and then drives an interactive tool-calling chat loop.`,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := envconfig.Load(envconfig.OSEnvReader{})
	if err != nil {
		return err
	}

	fmt.Println("\nagentbe — Agent Backend CLI Chat")
	fmt.Printf("Backend: %s | Root: %s | Model: %s\n", cfg.BackendType, cfg.RootDir, cfg.Model)
	switch cfg.BackendType {
	case envconfig.BackendLocal:
		fmt.Println("\x1b[2mSwitch to remote: BACKEND_TYPE=remote agentbe chat\x1b[0m")
	case envconfig.BackendMemory:
		fmt.Println("\x1b[2mSwitch to local:  BACKEND_TYPE=local agentbe chat\x1b[0m")
	default:
		fmt.Println("\x1b[2mSwitch to local:  agentbe chat\x1b[0m")
	}
	fmt.Println()

	backend, err := createBackend(cfg)
	if err != nil {
		return err
	}

	backend.OnStatusChange(func(event agentbe.StatusChangeEvent) {
		label, ok := statusLabels[event.To]
		if !ok {
			label = " " + string(event.To)
		}
		fmt.Fprintf(os.Stderr, "\n[status]%s", label)
		if event.Err != nil {
			fmt.Fprintf(os.Stderr, " (%v)", event.Err)
		}
		fmt.Fprintln(os.Stderr)
	})

	if err := smokeTest(ctx, backend); err != nil {
		return fmt.Errorf("smoke test failed: %w", err)
	}

	adapter := mcpintegration.New(backend, "", mcpintegration.DefaultConnectionTimeout)
	session, err := adapter.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open MCP session: %w", err)
	}

	toolsResult, err := session.ListTools(ctx, mcpListToolsRequest())
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	toolDefs, err := mcpintegration.ToolDefs(toolsResult.Tools)
	if err != nil {
		return err
	}

	names := make([]string, len(toolsResult.Tools))
	for i, t := range toolsResult.Tools {
		names[i] = t.Name
	}
	fmt.Printf(" connected! (tools: %s)\n", strings.Join(names, ", "))

	apiKey := cfg.OpenRouterAPIKey
	loop := &chat.Loop{
		Client:  chat.NewOpenRouterClient(apiKey),
		Model:   cfg.Model,
		Tools:   toolDefs,
		Session: mcpintegration.ToolCaller{Session: session},
		Out:     os.Stdout,
	}

	runErr := loop.Run(ctx, cmd.InOrStdin())

	fmt.Println("\nShutting down...")
	if err := backend.Destroy(ctx); err != nil {
		logger.Warnf("error during backend shutdown: %v", err)
	}

	return runErr
}

// createBackend builds the ParentBackend named by cfg.BackendType,
// restoring PyBasic/main.py's create_backend switch.
func createBackend(cfg *envconfig.Config) (agentbe.ParentBackend, error) {
	switch cfg.BackendType {
	case envconfig.BackendRemote:
		return remote.New(agentbe.RemoteFilesystemBackendConfig{
			RootDir:          cfg.RootDir,
			Host:             cfg.RemoteHost,
			Port:             cfg.RemotePort,
			AuthToken:        cfg.AuthToken,
			PreventDangerous: true,
			Reconnection:     agentbe.DefaultReconnectionConfig(),
		}, safety.NewDefaultChecker()), nil
	case envconfig.BackendMemory:
		return memory.New(agentbe.MemoryBackendConfig{RootDir: cfg.RootDir}), nil
	default:
		return local.New(agentbe.LocalFilesystemBackendConfig{
			RootDir:          cfg.RootDir,
			Isolation:        agentbe.IsolationNone,
			PreventDangerous: false,
		}, safety.NewDefaultChecker()), nil
	}
}

// smokeTest restores PyBasic/main.py's pre-chat sanity sequence: write a
// file, run a command, and list the directory it landed in. A backend
// that cannot run commands reports its root dir as the workspace.
func smokeTest(ctx context.Context, backend agentbe.ParentBackend) error {
	if err := backend.Write(ctx, "test.txt", []byte("Hello World")); err != nil {
		return err
	}
	cwdAny, err := backend.Exec(ctx, "pwd", nil)
	if kind, _ := agentbe.KindOf(err); kind == agentbe.KindNotImplemented {
		cwdAny, err = backend.RootDir(), nil
	}
	if err != nil {
		return err
	}
	cwd, _ := cwdAny.(string)
	files, err := backend.Readdir(ctx, ".")
	if err != nil {
		return err
	}

	fmt.Printf("Workspace: %s\n", strings.TrimSpace(cwd))
	if len(files) == 0 {
		fmt.Println("Files: (empty)")
	} else {
		fmt.Printf("Files: %s\n", strings.Join(files, ", "))
	}
	return nil
}
