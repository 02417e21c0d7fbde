package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
	"github.com/agentbe/agentbe-go/pkg/logger"
)

var (
	mcpServerURL string
	mcpFormat    string
	mcpTimeout   time.Duration
)

// newMCPCommand restores cmd/thv/app/mcp.go's debugging surface: connect
// to an arbitrary MCP server over streamable HTTP and list what it
// advertises, independent of any agentbe backend.
func newMCPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Interact with MCP servers for debugging",
		Long:  "The mcp command connects to an MCP server over streamable HTTP and lists its capabilities.",
	}

	listCmd := &cobra.Command{
		Use:  "list [tools|resources|prompts]",
		RunE: mcpListCmdFunc,
	}
	toolsCmd := &cobra.Command{Use: "tools", RunE: mcpListToolsCmdFunc}
	resourcesCmd := &cobra.Command{Use: "resources", RunE: mcpListResourcesCmdFunc}
	promptsCmd := &cobra.Command{Use: "prompts", RunE: mcpListPromptsCmdFunc}

	for _, c := range []*cobra.Command{listCmd, toolsCmd, resourcesCmd, promptsCmd} {
		addMCPFlags(c)
	}

	listCmd.AddCommand(toolsCmd, resourcesCmd, promptsCmd)
	cmd.AddCommand(listCmd)
	return cmd
}

func addMCPFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&mcpServerURL, "server", "", "MCP server URL (required)")
	cmd.Flags().StringVar(&mcpFormat, "format", FormatText, "Output format (json or text)")
	cmd.Flags().DurationVar(&mcpTimeout, "timeout", 30*time.Second, "Connection timeout")
	_ = cmd.MarkFlagRequired("server")
}

func mcpListToolsRequest() mcp.ListToolsRequest { return mcp.ListToolsRequest{} }

func mcpListCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), mcpTimeout)
	defer cancel()

	mcpClient, err := connectMCPClient(ctx)
	if err != nil {
		return err
	}
	defer mcpClient.Close()

	data := make(map[string]any)
	if tools, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{}); err != nil {
		logger.Warnf("failed to list tools: %v", err)
		data["tools"] = []mcp.Tool{}
	} else {
		data["tools"] = tools.Tools
	}
	if resources, err := mcpClient.ListResources(ctx, mcp.ListResourcesRequest{}); err != nil {
		logger.Warnf("failed to list resources: %v", err)
		data["resources"] = []mcp.Resource{}
	} else {
		data["resources"] = resources.Resources
	}
	if prompts, err := mcpClient.ListPrompts(ctx, mcp.ListPromptsRequest{}); err != nil {
		logger.Warnf("failed to list prompts: %v", err)
		data["prompts"] = []mcp.Prompt{}
	} else {
		data["prompts"] = prompts.Prompts
	}

	return outputMCPData(data, mcpFormat)
}

func mcpListToolsCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), mcpTimeout)
	defer cancel()

	mcpClient, err := connectMCPClient(ctx)
	if err != nil {
		return err
	}
	defer mcpClient.Close()

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	return outputMCPData(map[string]any{"tools": result.Tools}, mcpFormat)
}

func mcpListResourcesCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), mcpTimeout)
	defer cancel()

	mcpClient, err := connectMCPClient(ctx)
	if err != nil {
		return err
	}
	defer mcpClient.Close()

	result, err := mcpClient.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return fmt.Errorf("failed to list resources: %w", err)
	}
	return outputMCPData(map[string]any{"resources": result.Resources}, mcpFormat)
}

func mcpListPromptsCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), mcpTimeout)
	defer cancel()

	mcpClient, err := connectMCPClient(ctx)
	if err != nil {
		return err
	}
	defer mcpClient.Close()

	result, err := mcpClient.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list prompts: %w", err)
	}
	return outputMCPData(map[string]any{"prompts": result.Prompts}, mcpFormat)
}

// connectMCPClient creates a streamable-HTTP MCP client against
// mcpServerURL and completes its initialize handshake.
func connectMCPClient(ctx context.Context) (*client.Client, error) {
	mcpClient, err := client.NewStreamableHttpClient(mcpServerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to start MCP transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentbe-cli", Version: agentbe.Version}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}
	return mcpClient, nil
}

func outputMCPData(data map[string]any, format string) error {
	if format == FormatJSON {
		jsonData, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	hasTools := outputMCPTools(w, data)
	hasResources := outputMCPResources(w, data)
	hasPrompts := outputMCPPrompts(w, data)
	if !hasTools && !hasResources && !hasPrompts {
		fmt.Println("No tools, resources, or prompts found")
		return nil
	}
	return w.Flush()
}

func outputMCPTools(w *tabwriter.Writer, data map[string]any) bool {
	tools, ok := data["tools"].([]mcp.Tool)
	if !ok || len(tools) == 0 {
		return false
	}
	fmt.Fprintln(w, "TOOLS:")
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, tool := range tools {
		fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
	}
	fmt.Fprintln(w)
	return true
}

func outputMCPResources(w *tabwriter.Writer, data map[string]any) bool {
	resources, ok := data["resources"].([]mcp.Resource)
	if !ok || len(resources) == 0 {
		return false
	}
	fmt.Fprintln(w, "RESOURCES:")
	fmt.Fprintln(w, "NAME\tURI\tDESCRIPTION\tMIME_TYPE")
	for _, r := range resources {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.URI, r.Description, r.MIMEType)
	}
	fmt.Fprintln(w)
	return true
}

func outputMCPPrompts(w *tabwriter.Writer, data map[string]any) bool {
	prompts, ok := data["prompts"].([]mcp.Prompt)
	if !ok || len(prompts) == 0 {
		return false
	}
	fmt.Fprintln(w, "PROMPTS:")
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tARGUMENTS")
	for _, p := range prompts {
		fmt.Fprintf(w, "%s\t%s\t%d\n", p.Name, p.Description, len(p.Arguments))
	}
	fmt.Fprintln(w)
	return true
}
