package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/events"
)

type (
	// blockHandleResponse represents one finalized block reference as returned
	// by the getBlocksAtHeight RPC.
	blockHandleResponse struct {
		Height uint64 `json:"height"`
		Hash   string `json:"hash"`
	}

	// transactionResponse represents one transaction with its emitted events
	// as returned by the getBlockTransactionEvents RPC.
	transactionResponse struct {
		Hash    string            `json:"hash"`
		Sender  string            `json:"sender"`
		Memo    string            `json:"memo"`
		MemoHex string            `json:"memoHex"`
		Events  []json.RawMessage `json:"events"`
	}

	// blockInfoResponse represents the getBlockInfo RPC result; only the slot
	// time is consumed here.
	blockInfoResponse struct {
		BlockSlotTime time.Time `json:"blockSlotTime"`
	}

	// transactionStatusResponse represents the getTransactionStatus RPC
	// result used by the fallback reader.
	transactionStatusResponse struct {
		Finalized bool   `json:"finalized"`
		Sender    string `json:"sender"`
		Memo      string `json:"memo"`
		MemoHex   string `json:"memoHex"`
	}
)

// memoText resolves the human-readable memo: the node's decoded text when
// present, else the hex payload decoded as UTF-8.
func memoText(text, memoHex string) string {
	if text != "" {
		return text
	}

	raw, err := hex.DecodeString(memoHex)
	if err != nil || !utf8.Valid(raw) {
		return ""
	}
	return string(raw)
}

// toChainstreamTransaction converts a transactionResponse into the stream's
// transaction shape, decoding every raw event.
func (t transactionResponse) toChainstreamTransaction(ctx context.Context) chainstream.Transaction {
	return chainstream.Transaction{
		Hash:     t.Hash,
		Sender:   t.Sender,
		MemoText: memoText(t.Memo, t.MemoHex),
		MemoHex:  t.MemoHex,
		Events:   events.DecodeAll(ctx, t.Events),
	}
}

// Liveness implements chainstream.LedgerNode via the getNodeInfo RPC.
func (c *client) Liveness(ctx context.Context) error {
	_, err := c.conn.Fetch(ctx, "getNodeInfo")
	return err
}

// BlocksAtHeight implements chainstream.LedgerNode.
func (c *client) BlocksAtHeight(ctx context.Context, height uint64) ([]chainstream.BlockHandle, error) {
	data, err := c.conn.Fetch(ctx, "getBlocksAtHeight", height)
	if err != nil {
		return nil, err
	}

	var raw []blockHandleResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	handles := make([]chainstream.BlockHandle, len(raw))
	for i, h := range raw {
		handles[i] = chainstream.BlockHandle{Height: h.Height, Hash: h.Hash}
	}
	return handles, nil
}

// TransactionEvents implements chainstream.LedgerNode.
func (c *client) TransactionEvents(ctx context.Context, handle chainstream.BlockHandle) ([]chainstream.Transaction, error) {
	data, err := c.conn.Fetch(ctx, "getBlockTransactionEvents", handle.Hash)
	if err != nil {
		return nil, err
	}

	var raw []transactionResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	transactions := make([]chainstream.Transaction, len(raw))
	for i, t := range raw {
		transactions[i] = t.toChainstreamTransaction(ctx)
	}
	return transactions, nil
}

// SpecialEvents implements chainstream.LedgerNode.
func (c *client) SpecialEvents(ctx context.Context, handle chainstream.BlockHandle) ([]events.Event, error) {
	data, err := c.conn.Fetch(ctx, "getBlockSpecialEvents", handle.Hash)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	return events.DecodeAll(ctx, raw), nil
}

// BlockTime implements chainstream.LedgerNode. A block the node cannot
// describe yields the zero time, not an error.
func (c *client) BlockTime(ctx context.Context, handle chainstream.BlockHandle) (time.Time, error) {
	data, err := c.conn.Fetch(ctx, "getBlockInfo", handle.Hash)
	if err != nil {
		return time.Time{}, err
	}

	var info blockInfoResponse
	if err := json.Unmarshal(data, &info); err != nil {
		return time.Time{}, err
	}
	return info.BlockSlotTime, nil
}
