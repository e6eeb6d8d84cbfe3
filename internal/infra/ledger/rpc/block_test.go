package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/events"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/resilience/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Initialize logger for tests to prevent nil pointer dereference
	_ = logger.Init(logger.WithLevel("error"))
}

// fakeConn is a jsonrpc.Client driven by a function field.
type fakeConn struct {
	fetchFunc func(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

func (f *fakeConn) Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return f.fetchFunc(ctx, method, params...)
}

func TestMemoText(t *testing.T) {
	t.Run("prefers the decoded text", func(t *testing.T) {
		assert.Equal(t, "hello", memoText("hello", "ff"))
	})

	t.Run("decodes hex when text is absent", func(t *testing.T) {
		assert.Equal(t, "hi", memoText("", "6869"))
	})

	t.Run("rejects invalid hex and non-utf8 payloads", func(t *testing.T) {
		assert.Empty(t, memoText("", "zz"))
		assert.Empty(t, memoText("", "fffe"))
	})
}

func TestBlocksAtHeight(t *testing.T) {
	t.Run("maps handle responses", func(t *testing.T) {
		conn := &fakeConn{
			fetchFunc: func(_ context.Context, method string, params ...any) (json.RawMessage, error) {
				require.Equal(t, "getBlocksAtHeight", method)
				require.Equal(t, []any{uint64(9)}, params)
				return json.RawMessage(`[{"height":9,"hash":"h9"}]`), nil
			},
		}
		c := NewClient(conn, "ws://node")

		handles, err := c.BlocksAtHeight(t.Context(), 9)
		require.NoError(t, err)
		assert.Equal(t, []chainstream.BlockHandle{{Height: 9, Hash: "h9"}}, handles)
	})

	t.Run("propagates rpc failures", func(t *testing.T) {
		conn := &fakeConn{
			fetchFunc: func(context.Context, string, ...any) (json.RawMessage, error) {
				return nil, errors.New("node down")
			},
		}
		c := NewClient(conn, "ws://node")

		_, err := c.BlocksAtHeight(t.Context(), 9)
		assert.Error(t, err)
	})
}

func TestTransactionEvents(t *testing.T) {
	t.Run("decodes transactions and their events", func(t *testing.T) {
		conn := &fakeConn{
			fetchFunc: func(_ context.Context, method string, params ...any) (json.RawMessage, error) {
				require.Equal(t, "getBlockTransactionEvents", method)
				require.Equal(t, []any{"h9"}, params)
				return json.RawMessage(`[
					{
						"hash": "tx1",
						"sender": "addr1",
						"memoHex": "6869",
						"events": [{"tag": "stakeIncreased", "validatorId": 3, "amount": "1500"}]
					}
				]`), nil
			},
		}
		c := NewClient(conn, "ws://node")

		txs, err := c.TransactionEvents(t.Context(), chainstream.BlockHandle{Height: 9, Hash: "h9"})
		require.NoError(t, err)
		require.Len(t, txs, 1)

		tx := txs[0]
		assert.Equal(t, "tx1", tx.Hash)
		assert.Equal(t, "addr1", tx.Sender)
		assert.Equal(t, "hi", tx.MemoText)
		require.Len(t, tx.Events, 1)
		assert.Equal(t, events.KindStakeIncreased, tx.Events[0].Kind)
		assert.Equal(t, uint64(3), tx.Events[0].ValidatorID)
	})

	t.Run("a malformed event does not fail the block", func(t *testing.T) {
		conn := &fakeConn{
			fetchFunc: func(context.Context, string, ...any) (json.RawMessage, error) {
				return json.RawMessage(`[
					{
						"hash": "tx1",
						"sender": "addr1",
						"events": [
							"not an object",
							{"tag": "stakeIncreased", "validatorId": 3}
						]
					}
				]`), nil
			},
		}
		c := NewClient(conn, "ws://node")

		txs, err := c.TransactionEvents(t.Context(), chainstream.BlockHandle{Height: 9, Hash: "h9"})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.Len(t, txs[0].Events, 1)
		assert.Equal(t, events.KindStakeIncreased, txs[0].Events[0].Kind)
	})
}

func TestBlockTime(t *testing.T) {
	t.Run("parses the slot time", func(t *testing.T) {
		conn := &fakeConn{
			fetchFunc: func(_ context.Context, method string, _ ...any) (json.RawMessage, error) {
				require.Equal(t, "getBlockInfo", method)
				return json.RawMessage(`{"blockSlotTime":"2024-05-01T10:00:00Z"}`), nil
			},
		}
		c := NewClient(conn, "ws://node")

		ts, err := c.BlockTime(t.Context(), chainstream.BlockHandle{Hash: "h9"})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ts)
	})
}

func TestTransactionMemoAndSender(t *testing.T) {
	fastRetry := retry.New(retry.WithAttempts(3), retry.WithDelay(time.Millisecond), retry.WithFixedDelay())

	t.Run("retries until the transaction is finalized", func(t *testing.T) {
		calls := 0
		conn := &fakeConn{
			fetchFunc: func(_ context.Context, method string, params ...any) (json.RawMessage, error) {
				require.Equal(t, "getTransactionStatus", method)
				require.Equal(t, []any{"tx1"}, params)

				calls++
				if calls < 3 {
					return json.RawMessage(`{"finalized":false}`), nil
				}
				return json.RawMessage(`{"finalized":true,"sender":"addr1","memoHex":"6869"}`), nil
			},
		}
		c := NewClient(conn, "ws://node", WithFallbackRetry(fastRetry))

		sender, memo, err := c.TransactionMemoAndSender(t.Context(), "tx1")
		require.NoError(t, err)
		assert.Equal(t, "addr1", sender)
		assert.Equal(t, "hi", memo)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		conn := &fakeConn{
			fetchFunc: func(context.Context, string, ...any) (json.RawMessage, error) {
				return json.RawMessage(`{"finalized":false}`), nil
			},
		}
		c := NewClient(conn, "ws://node", WithFallbackRetry(fastRetry))

		_, _, err := c.TransactionMemoAndSender(t.Context(), "tx1")
		assert.Error(t, err)
	})
}

func TestBuildStreamURL(t *testing.T) {
	c := NewClient(&fakeConn{}, "https://node.example.com")

	t.Run("tip subscription omits the height", func(t *testing.T) {
		u, err := c.buildStreamURL(0)
		require.NoError(t, err)
		assert.Equal(t, "wss://node.example.com/v1/finalized-blocks", u)
	})

	t.Run("resume subscription carries the height", func(t *testing.T) {
		u, err := c.buildStreamURL(42)
		require.NoError(t, err)
		assert.Equal(t, "wss://node.example.com/v1/finalized-blocks?fromHeight=42", u)
	})
}
