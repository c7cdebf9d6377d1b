package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/hafiza/internal/mcpserver"
	"github.com/flemzord/hafiza/pkg/app"
)

func mcpCmd(g *globalFlags) *cobra.Command {
	var mf memoryFlags
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol; logs go to stderr.
			p := g.params(false)
			p.LogWriter = os.Stderr
			if p.LogLevel == "" {
				p.LogLevel = "warn"
			}
			a, err := app.Open(p)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcpserver.New(a.Engine, mcpserver.Config{
				UserID:   mf.userOr(a.UserID()),
				Version:  version,
				ReadOnly: a.Config.MCP.ReadOnly,
			}, a.Logger)
			if err != nil {
				return err
			}
			return srv.ServeStdio(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
	mf.bind(cmd)
	return cmd
}
