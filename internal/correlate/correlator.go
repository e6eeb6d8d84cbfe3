// Package correlate matches block transactions against pending verification
// waiters by sender address and one-time memo. It runs inside the block
// processing pass; per-transaction lookups within one block may execute
// concurrently, but the package never holds state across blocks.
package correlate

import (
	"context"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/normalize"
	"github.com/mtessaro/stakewatch/internal/waiter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Correlator evaluates each transaction against both waiter keyspaces.
type Correlator struct {
	registry *waiter.Registry
	fallback FallbackReader

	matches metric.Int64Counter
}

// New creates a Correlator over the given registry and fallback reader.
func New(registry *waiter.Registry, fallback FallbackReader) *Correlator {
	c := &Correlator{
		registry: registry,
		fallback: fallback,
	}

	meter := otel.Meter("stakewatch/correlate")
	c.matches, _ = meter.Int64Counter("correlate.waiters.matched")

	return c
}

// ProcessTransaction correlates one transaction from a processed block:
//
//  1. Sender and memo are taken from the stream payload when present.
//  2. When either is missing and at least one waiter exists across both
//     roles, the fallback reader fills them in; the fallback cost is never
//     paid when nobody is waiting.
//  3. A Delegator and a Validator waiter for the normalized sender are
//     evaluated independently against the same memo: a normalized match
//     fires OnSuccess once and removes the waiter; a present-but-different
//     memo fires OnWrongMemo and keeps the waiter; an absent memo fires
//     nothing.
//
// Failures are logged and swallowed — an uncorrelatable transaction is a
// non-event, not an error.
func (c *Correlator) ProcessTransaction(ctx context.Context, block chainstream.BlockDescriptor, tx chainstream.Transaction) {
	sender, memoText := tx.Sender, tx.MemoText

	if sender == "" || memoText == "" {
		if c.registry.Len() == 0 {
			return
		}

		fbSender, fbMemo, err := c.fallback.TransactionMemoAndSender(ctx, tx.Hash)
		if err != nil {
			logger.Warn(ctx, "fallback read failed, transaction not correlated",
				"tx.hash", tx.Hash,
				"block.height", block.Height,
				"error", err,
			)
			return
		}

		if sender == "" {
			sender = fbSender
		}
		if memoText == "" {
			memoText = fbMemo
		}
	}

	sender = normalize.Address(sender)
	if sender == "" {
		return
	}

	for _, role := range []waiter.Role{waiter.RoleDelegator, waiter.RoleValidator} {
		c.evaluate(ctx, role, sender, memoText, block, tx)
	}
}

// evaluate matches one waiter keyspace against the transaction.
func (c *Correlator) evaluate(ctx context.Context, role waiter.Role, sender, memoText string, block chainstream.BlockDescriptor, tx chainstream.Transaction) {
	w, ok := c.registry.Lookup(role, sender)
	if !ok {
		return
	}

	if memoText == "" {
		// No memo to compare; the waiter stays active.
		return
	}

	observedMemo := normalize.Memo(memoText)
	if observedMemo != w.ExpectedMemo {
		w.RejectMemo(observedMemo)
		return
	}

	// Removing first guarantees OnSuccess fires at most once even if the
	// same memo shows up again in a later transaction.
	if !c.registry.Remove(w) {
		return
	}

	logger.Info(ctx, "verification transaction correlated",
		"waiter.role", string(role),
		"waiter.address", sender,
		"tx.hash", tx.Hash,
		"block.height", block.Height,
	)
	c.matches.Add(ctx, 1)

	w.Succeed(waiter.Correlation{
		TxHash:       tx.Hash,
		BlockHash:    block.Hash,
		Sender:       sender,
		MemoText:     memoText,
		MemoHex:      tx.MemoHex,
		TimestampISO: block.TimestampISO,
	})
}
