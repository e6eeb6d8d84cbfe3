package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/correlate"
	"github.com/mtessaro/stakewatch/internal/events"
	"github.com/mtessaro/stakewatch/internal/notify"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/types"
	"github.com/mtessaro/stakewatch/internal/waiter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Initialize logger for tests to prevent nil pointer dereference
	_ = logger.Init(logger.WithLevel("error"))
}

// fakeNode delegates to its function fields, defaulting to inert behavior.
type fakeNode struct {
	livenessFunc func(ctx context.Context) error
	streamFunc   func(ctx context.Context, fromHeight uint64) (<-chan chainstream.BlockEvent, error)
}

var _ chainstream.LedgerNode = (*fakeNode)(nil)

func (f *fakeNode) Liveness(ctx context.Context) error {
	if f.livenessFunc != nil {
		return f.livenessFunc(ctx)
	}
	return nil
}

func (f *fakeNode) StreamFinalizedBlocksFrom(ctx context.Context, fromHeight uint64) (<-chan chainstream.BlockEvent, error) {
	if f.streamFunc != nil {
		return f.streamFunc(ctx, fromHeight)
	}
	ch := make(chan chainstream.BlockEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeNode) BlocksAtHeight(context.Context, uint64) ([]chainstream.BlockHandle, error) {
	return nil, nil
}

func (f *fakeNode) TransactionEvents(context.Context, chainstream.BlockHandle) ([]chainstream.Transaction, error) {
	return nil, nil
}

func (f *fakeNode) SpecialEvents(context.Context, chainstream.BlockHandle) ([]events.Event, error) {
	return nil, nil
}

func (f *fakeNode) BlockTime(context.Context, chainstream.BlockHandle) (time.Time, error) {
	return time.Time{}, nil
}

// fakeFallback is a FallbackReader that is never expected to be called.
type fakeFallback struct{}

var _ correlate.FallbackReader = (*fakeFallback)(nil)

func (fakeFallback) TransactionMemoAndSender(context.Context, string) (string, string, error) {
	return "", "", nil
}

// stakeNotifier records stake change payloads and ignores everything else.
type stakeNotifier struct {
	notify.LogNotifier

	mu           sync.Mutex
	stakeChanges []notify.StakeChange
}

func (n *stakeNotifier) StakeChanged(_ context.Context, sc notify.StakeChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stakeChanges = append(n.stakeChanges, sc)
	return nil
}

func (n *stakeNotifier) recorded() []notify.StakeChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.StakeChange(nil), n.stakeChanges...)
}

func newTestService(node chainstream.LedgerNode, notifier notify.Notifier) (*service, *waiter.Registry) {
	registry := waiter.New()
	correlator := correlate.New(registry, fakeFallback{})
	classifier := notify.NewClassifier(notifier, notify.NewMemoryRateStore(), notify.WithDebounceWindow(10*time.Millisecond))
	return New(node, registry, correlator, classifier), registry
}

func TestServiceLifecycle(t *testing.T) {
	t.Run("start twice returns an error", func(t *testing.T) {
		svc, _ := newTestService(&fakeNode{}, notify.LogNotifier{})
		t.Cleanup(svc.Close)

		require.NoError(t, svc.Start(t.Context()))
		assert.ErrorIs(t, svc.Start(t.Context()), ErrServiceAlreadyStarted)
	})

	t.Run("close is safe before start and allows a restart", func(t *testing.T) {
		svc, _ := newTestService(&fakeNode{}, notify.LogNotifier{})

		svc.Close()

		require.NoError(t, svc.Start(t.Context()))
		svc.Close()
		require.NoError(t, svc.Start(t.Context()))
		svc.Close()
	})

	t.Run("close waits for the stream loop to stop", func(t *testing.T) {
		released := make(chan struct{})
		node := &fakeNode{
			streamFunc: func(ctx context.Context, _ uint64) (<-chan chainstream.BlockEvent, error) {
				ch := make(chan chainstream.BlockEvent)
				go func() {
					<-ctx.Done()
					close(ch)
					close(released)
				}()
				return ch, nil
			},
		}

		svc, _ := newTestService(node, notify.LogNotifier{})
		require.NoError(t, svc.Start(t.Context()))
		svc.Close()

		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatal("stream loop still running after Close")
		}
	})
}

func TestServiceProcessBlock(t *testing.T) {
	block := chainstream.ObservedBlock{
		BlockDescriptor: chainstream.BlockDescriptor{
			Height:       7,
			Hash:         "blockhash7",
			TimestampISO: "2024-05-01T10:00:00Z",
		},
	}

	t.Run("correlates waiters and classifies events for one block", func(t *testing.T) {
		notifier := &stakeNotifier{}
		svc, registry := newTestService(&fakeNode{}, notifier)

		matched := make(chan waiter.Correlation, 1)
		_, err := registry.Register(waiter.RoleDelegator, "addr1", "memo one", nil, waiter.Callbacks{
			OnSuccess: func(c waiter.Correlation) { matched <- c },
		})
		require.NoError(t, err)

		b := block
		b.Transactions = []chainstream.Transaction{
			{
				Hash:     "txhash1",
				Sender:   "addr1",
				MemoText: "memo one",
				Events: []events.Event{{
					Kind:        events.KindStakeIncreased,
					ValidatorID: 3,
					Amount:      func() *types.Amount { a := types.Amount(500); return &a }(),
				}},
			},
			{Hash: "txhash2", Sender: "addr2", MemoText: "other"},
		}

		svc.ProcessBlock(t.Context(), b)

		select {
		case c := <-matched:
			assert.Equal(t, "txhash1", c.TxHash)
			assert.Equal(t, "blockhash7", c.BlockHash)
		case <-time.After(time.Second):
			t.Fatal("waiter was not correlated")
		}
		assert.Equal(t, 0, registry.Len())

		changes := notifier.recorded()
		require.Len(t, changes, 1)
		assert.Equal(t, uint64(3), changes[0].ValidatorID)
		assert.True(t, changes[0].Increased)
	})

	t.Run("correlation completes before ProcessBlock returns", func(t *testing.T) {
		svc, registry := newTestService(&fakeNode{}, notify.LogNotifier{})

		var mu sync.Mutex
		var order []string
		for _, addr := range []string{"a1", "a2", "a3", "a4"} {
			_, err := registry.Register(waiter.RoleValidator, addr, "m", nil, waiter.Callbacks{
				OnSuccess: func(c waiter.Correlation) {
					mu.Lock()
					order = append(order, c.Sender)
					mu.Unlock()
				},
			})
			require.NoError(t, err)
		}

		b := block
		for _, addr := range []string{"a1", "a2", "a3", "a4"} {
			b.Transactions = append(b.Transactions, chainstream.Transaction{
				Hash: "tx-" + addr, Sender: addr, MemoText: "m",
			})
		}

		svc.ProcessBlock(t.Context(), b)

		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, order, 4)
		assert.Equal(t, 0, registry.Len())
	})
}
