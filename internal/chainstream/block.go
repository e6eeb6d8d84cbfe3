package chainstream

import "github.com/mtessaro/stakewatch/internal/events"

// BlockDescriptor identifies one finalized block as observed on the stream.
// It is immutable once built; heights delivered to downstream processing are
// strictly increasing with no gaps once backfill completes.
type BlockDescriptor struct {
	Height       uint64 // block height
	Hash         string // block hash in hex
	TimestampISO string // block timestamp in ISO-8601, empty when unknown
}

// Transaction is one transaction inside a processed block. Sender and memo
// may be empty when the stream payload omitted them; the correlator fills
// them lazily through the fallback reader only when a waiter could plausibly
// match.
type Transaction struct {
	Hash     string         // transaction hash in hex
	Sender   string         // sender address, empty when not in the stream payload
	MemoText string         // memo as text, empty when absent
	MemoHex  string         // raw memo bytes in hex, empty when absent
	Events   []events.Event // decoded events emitted by this transaction
}

// ObservedBlock is a fully hydrated block handed to the processor: the
// descriptor plus every per-transaction and block-level event.
type ObservedBlock struct {
	BlockDescriptor

	Transactions  []Transaction  // transactions in source order
	SpecialEvents []events.Event // block-level events not tied to a transaction
}
