// Package pipeline wires the block stream ingestor, the waiter correlator and
// the event classifier into one runnable unit with a single lifecycle.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/correlate"
	"github.com/mtessaro/stakewatch/internal/notify"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/waiter"

	"golang.org/x/sync/errgroup"
)

// ErrServiceAlreadyStarted is returned if Start is called more than once.
var ErrServiceAlreadyStarted = errors.New("service already started")

// defaultMaxConcurrentCorrelations bounds the per-block correlation fan-out.
const defaultMaxConcurrentCorrelations = 8

// Service defines the pipeline lifecycle entrypoint.
type Service interface {
	// Start launches the block stream consumption loop and the waiter pruning
	// routine in the background.
	//
	// Returns ErrServiceAlreadyStarted if Start is called more than once.
	// Call Close to shut everything down.
	Start(ctx context.Context) error

	// Close stops the stream loop, drains pending aggregation buckets, and
	// releases background routines. Safe to call if the service was never
	// started.
	Close()
}

// closeFunc defines a cleanup routine to stop background goroutines and dependencies.
type closeFunc func()

type service struct {
	mu        sync.Mutex // protects lifecycle state
	isStarted bool       // ensures Start is called only once
	closeFunc closeFunc  // cancels context and cleans up dependencies

	stream     chainstream.Service
	registry   *waiter.Registry
	correlator *correlate.Correlator
	classifier *notify.Classifier

	pruneInterval time.Duration
	maxConcurrent int
	streamOpts    []chainstream.Option
}

var _ Service = (*service)(nil)
var _ chainstream.BlockProcessor = (*service)(nil)

// Option configures the pipeline.
type Option func(*service)

// WithPruneInterval overrides how often expired waiters are pruned.
// Default: one minute.
func WithPruneInterval(d time.Duration) Option {
	return func(s *service) {
		s.pruneInterval = d
	}
}

// WithMaxConcurrentCorrelations bounds how many transactions of one block are
// correlated in parallel. Default: 8.
func WithMaxConcurrentCorrelations(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithStreamOptions forwards options to the block stream ingestor, e.g. its
// checkpoint storage or reconnect pause.
func WithStreamOptions(opts ...chainstream.Option) Option {
	return func(s *service) {
		s.streamOpts = append(s.streamOpts, opts...)
	}
}

// New creates the pipeline over the given ledger node and processing stages.
// The returned service is the ingestor's block processor: classification runs
// strictly in block order, while per-transaction correlation within one block
// may fan out.
func New(node chainstream.LedgerNode, registry *waiter.Registry, correlator *correlate.Correlator, classifier *notify.Classifier, opts ...Option) *service {
	s := &service{
		registry:      registry,
		correlator:    correlator,
		classifier:    classifier,
		pruneInterval: waiter.DefaultPruneInterval,
		maxConcurrent: defaultMaxConcurrentCorrelations,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.stream = chainstream.New(node, s, s.streamOpts...)
	return s
}

// Start begins consuming the finalized block stream.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	s.registry.StartPruning(ctx, s.pruneInterval)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "block stream terminated", "error", err)
		}
	}()

	s.closeFunc = func() {
		cancel()
		<-done

		// Pending buckets would otherwise be lost with the process.
		s.classifier.FlushAll(context.Background())
	}
	s.isStarted = true
	return nil
}

// Close shuts down all processing routines and dependencies.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}

	s.closeFunc = nil
	s.isStarted = false
}

// ProcessBlock runs the full processing pass for one hydrated block: first
// every transaction is correlated against pending waiters, then every decoded
// event is classified. Correlation fans out because lookups are independent;
// classification stays sequential so aggregation sees events in block order.
func (s *service) ProcessBlock(ctx context.Context, block chainstream.ObservedBlock) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for _, tx := range block.Transactions {
		g.Go(func() error {
			s.correlator.ProcessTransaction(gctx, block.BlockDescriptor, tx)
			return nil
		})
	}
	_ = g.Wait()

	for _, tx := range block.Transactions {
		for _, ev := range tx.Events {
			s.classifier.HandleTransactionEvent(ctx, block.BlockDescriptor, tx, ev)
		}
	}

	for _, ev := range block.SpecialEvents {
		s.classifier.HandleSpecialEvent(ctx, block.BlockDescriptor, ev)
	}
}
