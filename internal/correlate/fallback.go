package correlate

import "context"

// FallbackReader resolves a transaction's sender and memo through a
// secondary synchronous query when the stream payload omits them.
// Implementations retry internally with a bounded, fixed-delay policy;
// a returned error means "could not correlate this transaction", never a
// fatal condition.
type FallbackReader interface {
	TransactionMemoAndSender(ctx context.Context, txHash string) (sender, memoText string, err error)
}
