package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtessaro/stakewatch/internal/pipeline"

	"github.com/urfave/cli/v3"
)

// startPipelineCommand returns a CLI command that starts the full block
// processing pipeline: chain stream ingestion, waiter correlation, event
// classification and notification dispatch.
//
// Usage example:
//
//	stakewatch start
//
// The process runs indefinitely until it receives an interrupt (SIGINT or SIGTERM).
func startPipelineCommand(p pipeline.Service) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Starts the block processing pipeline including chain ingestion and staking event monitoring.",
		Usage:       "Initializes and runs the full pipeline. Terminates gracefully on Ctrl+C or termination signals.",
		Action: func(ctx context.Context, c *cli.Command) error {
			quit := make(chan os.Signal, 1)
			defer close(quit)

			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			if err := p.Start(ctx); err != nil {
				return err
			}
			defer p.Close()

			<-quit
			return nil
		},
	}
}
