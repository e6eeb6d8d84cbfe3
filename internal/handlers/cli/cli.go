// Package cli exposes the stakewatch commands over the urfave/cli framework.
package cli

import (
	"context"
	"os"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/pipeline"

	"github.com/urfave/cli/v3"
)

// Run initializes and executes the stakewatch CLI application.
//
// It registers all available commands:
//
//   - `start`: Starts the full block processing pipeline.
//   - `probe`: Checks connectivity to the configured ledger node.
func Run(ctx context.Context, p pipeline.Service, node chainstream.LedgerNode) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "stakewatch",
		Description:           "Command-line interface for running the stakewatch block processing pipeline.",
		Usage:                 "stakewatch [command] [flags]",
		Commands: []*cli.Command{
			startPipelineCommand(p),
			probeNodeCommand(node),
		},
	}

	return app.Run(ctx, os.Args)
}
