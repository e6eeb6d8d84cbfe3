// Package chainstream consumes the ordered finalized-block stream from a
// ledger node, detects height gaps, backfills them synchronously, and drives
// per-block processing. The consumption loop is strictly sequential: block
// h+1 is never processed before block h's processing pass has returned.
package chainstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/normalize"
	"github.com/mtessaro/stakewatch/internal/pkg/x/chflow"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ErrStreamClosed reports that the node closed the finalized-block stream
// without a terminal error. The ingestor treats it like any other transient
// stream failure and resubscribes.
var ErrStreamClosed = errors.New("finalized block stream closed")

// defaultReconnectPause is how long the ingestor waits after a stream error
// before reconnecting.
const defaultReconnectPause = time.Second

// BlockProcessor receives each hydrated block exactly once, in height order.
// Implementations handle their own per-event failures; a processing pass
// never aborts the stream.
type BlockProcessor interface {
	ProcessBlock(ctx context.Context, block ObservedBlock)
}

// Service is the block stream ingestor.
type Service interface {
	// Run consumes the finalized-block stream until the context is canceled.
	// It only returns early on unrecoverable configuration errors (e.g. the
	// initial liveness probe failing); transient stream errors trigger a
	// pause and a full resubscribe instead.
	Run(ctx context.Context) error
}

type service struct {
	node       LedgerNode
	checkpoint CheckpointStorage
	processor  BlockProcessor

	reconnectPause time.Duration

	blocksProcessed metric.Int64Counter
	gapsBackfilled  metric.Int64Counter
}

var _ Service = (*service)(nil)

// Option configures the ingestor.
type Option func(*service)

// WithCheckpointStorage sets the storage used to persist the last processed
// height. Default: no persistence, stream starts at the current tip.
func WithCheckpointStorage(cs CheckpointStorage) Option {
	return func(s *service) {
		s.checkpoint = cs
	}
}

// WithReconnectPause overrides the pause between a stream error and the
// resubscribe attempt. Default: 1 second.
func WithReconnectPause(d time.Duration) Option {
	return func(s *service) {
		s.reconnectPause = d
	}
}

// New creates the ingestor for the given node and processor.
func New(node LedgerNode, processor BlockProcessor, opts ...Option) *service {
	s := &service{
		node:           node,
		checkpoint:     nopCheckpoint{},
		processor:      processor,
		reconnectPause: defaultReconnectPause,
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("stakewatch/chainstream")
	s.blocksProcessed, _ = meter.Int64Counter("chainstream.blocks.processed")
	s.gapsBackfilled, _ = meter.Int64Counter("chainstream.gaps.backfilled")

	return s
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	if err := s.node.Liveness(ctx); err != nil {
		return fmt.Errorf("ledger node liveness probe: %w", err)
	}

	lastHeight, heightKnown := s.loadCheckpoint(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var fromHeight uint64
		if heightKnown {
			fromHeight = lastHeight + 1
		}

		streamCh, err := s.node.StreamFinalizedBlocksFrom(ctx, fromHeight)
		if err != nil {
			logger.Error(ctx, "failed to open finalized block stream",
				"stream.from_height", fromHeight,
				"error", err,
			)
			s.pause(ctx)
			continue
		}

		err = s.consume(ctx, streamCh, &lastHeight, &heightKnown)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Error(ctx, "finalized block stream interrupted",
			"stream.last_height", lastHeight,
			"error", err,
		)
		s.pause(ctx)
	}
}

// consume drains one subscription, processing blocks in order and filling
// height gaps before advancing. It returns the error that terminated the
// stream; the caller resubscribes from the last processed height.
func (s *service) consume(ctx context.Context, streamCh <-chan BlockEvent, lastHeight *uint64, heightKnown *bool) error {
	for {
		event, ok := chflow.Receive(ctx, streamCh)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrStreamClosed
		}

		if event.Err != nil {
			return event.Err
		}

		h := event.Handle.Height

		if *heightKnown && h <= *lastHeight {
			// Redelivery after a reconnect; already processed.
			logger.Debug(ctx, "skipping already processed block",
				"block.height", h,
			)
			continue
		}

		if *heightKnown && h > *lastHeight+1 {
			s.backfill(ctx, *lastHeight+1, h-1, lastHeight)
		}

		if err := s.processAt(ctx, event.Handle); err != nil {
			// Height is not advanced, so the block is re-delivered after
			// the resubscribe.
			return fmt.Errorf("processing block at height %d: %w", h, err)
		}

		*lastHeight, *heightKnown = h, true
		s.saveCheckpoint(ctx, h)
	}
}

// backfill fetches and processes every height in [from, to], one at a time,
// before the live block that revealed the gap is processed. A failure for a
// single height is logged and that height's events are lost; blocking the
// live stream indefinitely on one bad height would be worse.
func (s *service) backfill(ctx context.Context, from, to uint64, lastHeight *uint64) {
	logger.Warn(ctx, "gap detected in finalized block stream",
		"gap.from_height", from,
		"gap.to_height", to,
	)

	for height := from; height <= to; height++ {
		if err := s.backfillHeight(ctx, height); err != nil {
			logger.Error(ctx, "backfill failed, skipping height",
				"block.height", height,
				"error", err,
			)
		} else {
			s.gapsBackfilled.Add(ctx, 1)
		}

		*lastHeight = height
		s.saveCheckpoint(ctx, height)
	}
}

// backfillHeight runs a full block-processing pass for one missing height.
func (s *service) backfillHeight(ctx context.Context, height uint64) error {
	handles, err := s.node.BlocksAtHeight(ctx, height)
	if err != nil {
		return err
	}
	if len(handles) == 0 {
		return fmt.Errorf("no finalized block at height %d", height)
	}

	var errs []error
	for _, handle := range handles {
		if err := s.processAt(ctx, handle); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// processAt hydrates the block behind the handle and hands it to the
// processor. Hydration failures are returned; processor failures are the
// processor's own concern and never surface here.
func (s *service) processAt(ctx context.Context, handle BlockHandle) error {
	transactions, err := s.node.TransactionEvents(ctx, handle)
	if err != nil {
		return fmt.Errorf("fetching transaction events: %w", err)
	}

	specialEvents, err := s.node.SpecialEvents(ctx, handle)
	if err != nil {
		return fmt.Errorf("fetching special events: %w", err)
	}

	blockTime, err := s.node.BlockTime(ctx, handle)
	if err != nil {
		// Timestamp is optional data; its absence must not cost the block.
		logger.Warn(ctx, "failed to fetch block time",
			"block.height", handle.Height,
			"block.hash", handle.Hash,
			"error", err,
		)
	}

	block := ObservedBlock{
		BlockDescriptor: BlockDescriptor{
			Height:       handle.Height,
			Hash:         handle.Hash,
			TimestampISO: normalize.Timestamp(blockTime),
		},
		Transactions:  transactions,
		SpecialEvents: specialEvents,
	}

	s.processor.ProcessBlock(ctx, block)
	s.blocksProcessed.Add(ctx, 1)
	return nil
}

// loadCheckpoint restores the last processed height, if any was persisted.
func (s *service) loadCheckpoint(ctx context.Context) (uint64, bool) {
	height, err := s.checkpoint.LoadLastHeight(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoCheckpointFound) {
			logger.Error(ctx, "failed to load checkpoint, starting from tip",
				"error", err,
			)
		}
		return 0, false
	}
	return height, true
}

// saveCheckpoint persists the last processed height. Failures are logged and
// tolerated; at worst a restart re-delivers a handful of blocks.
func (s *service) saveCheckpoint(ctx context.Context, height uint64) {
	if err := s.checkpoint.SaveLastHeight(ctx, height); err != nil {
		logger.Error(ctx, "failed to save checkpoint",
			"block.height", height,
			"error", err,
		)
	}
}

// pause sleeps for the reconnect pause, or less if the context ends first.
func (s *service) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.reconnectPause):
	}
}
