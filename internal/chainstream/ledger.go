package chainstream

import (
	"context"
	"time"

	"github.com/mtessaro/stakewatch/internal/events"
)

// BlockHandle references one finalized block on the ledger node, enough to
// fetch its contents.
type BlockHandle struct {
	Height uint64 // block height
	Hash   string // block hash in hex
}

// BlockEvent is one delivery on the finalized-block stream: either a block
// handle or the error that terminated the stream.
type BlockEvent struct {
	Handle BlockHandle // delivered block (zero value if Err is set)
	Err    error       // stream error (nil on success)
}

// LedgerNode is the source of finalized-block data. Implementations talk to
// a single shared node connection; reconnect logic must not run concurrently
// with an active stream read on the same instance.
type LedgerNode interface {
	// Liveness performs a lightweight status probe against the node.
	Liveness(ctx context.Context) error

	// StreamFinalizedBlocksFrom opens a forward stream of finalized blocks
	// starting at fromHeight (inclusive). A fromHeight of zero means "start
	// at the current tip". The returned channel is closed when the stream
	// ends; a terminal error is delivered as a BlockEvent with Err set.
	StreamFinalizedBlocksFrom(ctx context.Context, fromHeight uint64) (<-chan BlockEvent, error)

	// BlocksAtHeight returns the finalized block handles at the given
	// height, used for gap backfill.
	BlocksAtHeight(ctx context.Context, height uint64) ([]BlockHandle, error)

	// TransactionEvents returns the block's transactions with their decoded
	// events, in source order.
	TransactionEvents(ctx context.Context, handle BlockHandle) ([]Transaction, error)

	// SpecialEvents returns the block-level events not attached to any
	// transaction (e.g. reward payouts).
	SpecialEvents(ctx context.Context, handle BlockHandle) ([]events.Event, error)

	// BlockTime returns the block's timestamp, or the zero time when the
	// node does not know it.
	BlockTime(ctx context.Context, handle BlockHandle) (time.Time, error)
}
