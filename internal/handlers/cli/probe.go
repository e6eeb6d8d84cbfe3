package cli

import (
	"context"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"

	"github.com/urfave/cli/v3"
)

// probeNodeCommand returns a CLI command that runs a one-shot liveness probe
// against the configured ledger node and exits.
//
// Usage example:
//
//	stakewatch probe
func probeNodeCommand(node chainstream.LedgerNode) *cli.Command {
	return &cli.Command{
		Name:        "probe",
		Description: "Checks connectivity to the configured ledger node.",
		Usage:       "Performs a single liveness probe and reports the result.",
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := node.Liveness(ctx); err != nil {
				return err
			}

			logger.Info(ctx, "ledger node is reachable")
			return nil
		},
	}
}
