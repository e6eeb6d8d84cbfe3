package correlate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/waiter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Initialize logger for tests to prevent nil pointer dereference
	_ = logger.Init(logger.WithLevel("error"))
}

// fakeFallback is a scriptable FallbackReader that counts its calls.
type fakeFallback struct {
	sender string
	memo   string
	err    error
	calls  atomic.Int64
}

func (f *fakeFallback) TransactionMemoAndSender(_ context.Context, _ string) (string, string, error) {
	f.calls.Add(1)
	return f.sender, f.memo, f.err
}

var testBlock = chainstream.BlockDescriptor{
	Height:       42,
	Hash:         "blockhash42",
	TimestampISO: "2024-05-01T12:00:00Z",
}

func TestProcessTransaction(t *testing.T) {
	t.Run("matching memo fires OnSuccess exactly once", func(t *testing.T) {
		registry := waiter.New()
		var successes []waiter.Correlation
		_, err := registry.Register(waiter.RoleValidator, "addr1", "12345", "ctx-1", waiter.Callbacks{
			OnSuccess: func(c waiter.Correlation) { successes = append(successes, c) },
		})
		require.NoError(t, err)

		c := New(registry, &fakeFallback{})
		tx := chainstream.Transaction{Hash: "tx1", Sender: "addr1", MemoText: "12345", MemoHex: "3132333435"}

		c.ProcessTransaction(t.Context(), testBlock, tx)

		require.Len(t, successes, 1)
		assert.Equal(t, "tx1", successes[0].TxHash)
		assert.Equal(t, "blockhash42", successes[0].BlockHash)
		assert.Equal(t, "addr1", successes[0].Sender)
		assert.Equal(t, "12345", successes[0].MemoText)
		assert.Equal(t, "3132333435", successes[0].MemoHex)
		assert.Equal(t, "2024-05-01T12:00:00Z", successes[0].TimestampISO)
		assert.Equal(t, "ctx-1", successes[0].Context)

		// A second otherwise-identical transaction finds no waiter.
		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx2", Sender: "addr1", MemoText: "12345"})
		assert.Len(t, successes, 1)
	})

	t.Run("wrong memo fires OnWrongMemo and keeps the waiter matchable", func(t *testing.T) {
		registry := waiter.New()
		var (
			successes  int
			mismatches []waiter.Mismatch
		)
		_, err := registry.Register(waiter.RoleValidator, "addr1", "12345", nil, waiter.Callbacks{
			OnSuccess:   func(waiter.Correlation) { successes++ },
			OnWrongMemo: func(m waiter.Mismatch) { mismatches = append(mismatches, m) },
		})
		require.NoError(t, err)

		c := New(registry, &fakeFallback{})

		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx1", Sender: "addr1", MemoText: "99999"})

		require.Len(t, mismatches, 1)
		assert.Equal(t, "12345", mismatches[0].ExpectedMemo)
		assert.Equal(t, "99999", mismatches[0].ObservedMemo)
		assert.Zero(t, successes)

		// A later correct transaction still matches.
		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx2", Sender: "addr1", MemoText: "12345"})
		assert.Equal(t, 1, successes)
	})

	t.Run("memo comparison uses normalized forms", func(t *testing.T) {
		registry := waiter.New()
		var successes int
		_, err := registry.Register(waiter.RoleValidator, "addr1", "AbC 123", nil, waiter.Callbacks{
			OnSuccess: func(waiter.Correlation) { successes++ },
		})
		require.NoError(t, err)

		c := New(registry, &fakeFallback{})
		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx1", Sender: "addr1", MemoText: "  abc   123 "})

		assert.Equal(t, 1, successes)
	})

	t.Run("validator and delegator waiters for the same sender both evaluate", func(t *testing.T) {
		registry := waiter.New()
		var validatorHit, delegatorHit int
		_, err := registry.Register(waiter.RoleValidator, "addr1", "12345", nil, waiter.Callbacks{
			OnSuccess: func(waiter.Correlation) { validatorHit++ },
		})
		require.NoError(t, err)
		_, err = registry.Register(waiter.RoleDelegator, "addr1", "12345", nil, waiter.Callbacks{
			OnSuccess: func(waiter.Correlation) { delegatorHit++ },
		})
		require.NoError(t, err)

		c := New(registry, &fakeFallback{})
		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx1", Sender: "addr1", MemoText: "12345"})

		assert.Equal(t, 1, validatorHit)
		assert.Equal(t, 1, delegatorHit)
	})

	t.Run("missing memo fires no callback and keeps the waiter", func(t *testing.T) {
		registry := waiter.New()
		var successes, mismatches int
		_, err := registry.Register(waiter.RoleValidator, "addr1", "12345", nil, waiter.Callbacks{
			OnSuccess:   func(waiter.Correlation) { successes++ },
			OnWrongMemo: func(waiter.Mismatch) { mismatches++ },
		})
		require.NoError(t, err)

		// Fallback also knows no memo for this transaction.
		c := New(registry, &fakeFallback{sender: "addr1"})
		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx1", Sender: "addr1"})

		assert.Zero(t, successes)
		assert.Zero(t, mismatches)
		_, ok := registry.Lookup(waiter.RoleValidator, "addr1")
		assert.True(t, ok)
	})

	t.Run("fallback is skipped when no waiter exists", func(t *testing.T) {
		fallback := &fakeFallback{sender: "addr1", memo: "12345"}
		c := New(waiter.New(), fallback)

		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx1"})

		assert.Zero(t, fallback.calls.Load())
	})

	t.Run("fallback fills in missing sender and memo", func(t *testing.T) {
		registry := waiter.New()
		var successes int
		_, err := registry.Register(waiter.RoleDelegator, "addr1", "12345", nil, waiter.Callbacks{
			OnSuccess: func(waiter.Correlation) { successes++ },
		})
		require.NoError(t, err)

		fallback := &fakeFallback{sender: "addr1", memo: "12345"}
		c := New(registry, fallback)

		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx1"})

		assert.Equal(t, int64(1), fallback.calls.Load())
		assert.Equal(t, 1, successes)
	})

	t.Run("fallback failure means no correlation, waiter stays", func(t *testing.T) {
		registry := waiter.New()
		var successes int
		_, err := registry.Register(waiter.RoleValidator, "addr1", "12345", nil, waiter.Callbacks{
			OnSuccess: func(waiter.Correlation) { successes++ },
		})
		require.NoError(t, err)

		c := New(registry, &fakeFallback{err: errors.New("node timeout")})
		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx1"})

		assert.Zero(t, successes)
		_, ok := registry.Lookup(waiter.RoleValidator, "addr1")
		assert.True(t, ok)
	})

	t.Run("overwritten waiter's memo no longer matches", func(t *testing.T) {
		registry := waiter.New()
		var firstHit, secondHit int
		_, err := registry.Register(waiter.RoleValidator, "addr1", "11111", nil, waiter.Callbacks{
			OnSuccess: func(waiter.Correlation) { firstHit++ },
		})
		require.NoError(t, err)
		_, err = registry.Register(waiter.RoleValidator, "addr1", "22222", nil, waiter.Callbacks{
			OnSuccess: func(waiter.Correlation) { secondHit++ },
		})
		require.NoError(t, err)

		c := New(registry, &fakeFallback{})
		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx1", Sender: "addr1", MemoText: "11111"})

		assert.Zero(t, firstHit)
		assert.Zero(t, secondHit)

		c.ProcessTransaction(t.Context(), testBlock, chainstream.Transaction{Hash: "tx2", Sender: "addr1", MemoText: "22222"})
		assert.Equal(t, 1, secondHit)
	})
}
