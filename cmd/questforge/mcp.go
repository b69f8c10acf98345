package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/questforge/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol server on stdio",
	Long: `Exposes campaign generation as MCP tools so an agent can start,
review and resume campaigns. Logs go to stderr to keep stdout clean for
JSON-RPC.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.Background()); err != nil {
				a.logger.Error("shutdown", "error", err)
			}
		}()

		log.SetOutput(os.Stderr)
		a.logger.Info("starting MCP server", "transport", "stdio")
		return mcpserver.New(a.svc, version).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
