package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// TransactionMemoAndSender implements correlate.FallbackReader via the
// getTransactionStatus RPC. A transaction the node has not finalized yet is
// retried on the fixed-delay fallback policy; the lag between a stream
// delivery and the node's transaction index is usually well under a second.
func (c *client) TransactionMemoAndSender(ctx context.Context, txHash string) (string, string, error) {
	var status transactionStatusResponse

	err := c.fallbackTry.Execute(ctx, func() error {
		data, err := c.conn.Fetch(ctx, "getTransactionStatus", txHash)
		if err != nil {
			return err
		}

		if err := json.Unmarshal(data, &status); err != nil {
			return err
		}

		if !status.Finalized {
			return fmt.Errorf("transaction %s not finalized yet", txHash)
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}

	return status.Sender, memoText(status.Memo, status.MemoHex), nil
}
