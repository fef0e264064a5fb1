package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bmcp "github.com/faucetdb/basin/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes models and records
as tools for AI agents. Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for MCP clients that launch it as a subprocess.

In HTTP mode, the server listens on the given address.`,
		Example: `  basin mcp                              # stdio mode
  basin mcp --transport http --addr :8081  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP()
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":8081", "HTTP listen address (only used with --transport http)")

	viper.BindPFlag("mcp.transport", cmd.Flags().Lookup("transport"))
	viper.BindPFlag("mcp.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runMCP() error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	b.dispatcher.Start()
	mcpSrv := bmcp.NewMCPServer(b.models, b.data, versionString(), b.logger)

	switch b.cfg.MCP.Transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		b.logger.Info("starting MCP HTTP server", "addr", b.cfg.MCP.Addr)
		return mcpSrv.ServeHTTP(b.cfg.MCP.Addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", b.cfg.MCP.Transport)
	}
}
