package notify

import (
	"context"
	"sync"
	"time"

	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// defaultDebounceWindow is how long a bucket accumulates before flushing.
const defaultDebounceWindow = 800 * time.Millisecond

// bucketKind distinguishes the two aggregation strategies.
type bucketKind int

const (
	bucketCommission bucketKind = iota + 1
	bucketDelegation
)

// Bucket accumulates logically related low-level events for one key. A
// bucket moves Empty -> Accumulating -> Flushed; flushing removes it from
// the aggregator, so a later event with the same key starts a fresh bucket
// with a fresh identity.
type Bucket struct {
	Key         string
	Kind        bucketKind
	FirstSeenAt time.Time

	// Commission fields, per validator.
	ValidatorID        uint64
	BakingRate         *float64
	TransactionFeeRate *float64

	// Delegation onboarding facets, per transaction/delegator.
	DelegatorID uint64
	Account     string
	Target      *uint64
	Stake       *types.Amount
	Added       bool

	// References from the events that fed the bucket.
	TxHash       string
	BlockHash    string
	TimestampISO string

	deadline time.Time
}

// onboardingComplete reports whether all three delegator onboarding facets
// have been observed.
func (b *Bucket) onboardingComplete() bool {
	return b.Added && b.Target != nil && b.Stake != nil
}

// FlushFunc handles one flushed bucket. Errors are logged by the aggregator
// and never propagate: a bad bucket must not take siblings down with it.
type FlushFunc func(ctx context.Context, b *Bucket) error

// Aggregator owns the bucket map and a single delayed-flush queue. The
// debounce window is fixed, so buckets expire in insertion order and one
// timer armed for the head of the queue suffices; no per-bucket timers can
// leak. Flushes run on the timer goroutine, concurrently with block
// processing, which is why every mutation happens under the mutex.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	queue   []*Bucket
	timer   *time.Timer

	window time.Duration
	now    func() time.Time
	flush  FlushFunc

	flushed metric.Int64Counter
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithDebounceWindow overrides the default 800ms debounce window.
func WithDebounceWindow(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.window = d
	}
}

// NewAggregator creates an Aggregator that hands expired buckets to flush.
func NewAggregator(flush FlushFunc, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		buckets: make(map[string]*Bucket),
		window:  defaultDebounceWindow,
		now:     time.Now,
		flush:   flush,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.timer = time.AfterFunc(time.Hour, a.onTimer)
	a.timer.Stop()

	meter := otel.Meter("stakewatch/notify")
	a.flushed, _ = meter.Int64Counter("notify.buckets.flushed")

	return a
}

// Upsert creates the bucket for key on first insertion (arming its flush
// deadline) and applies the mutation to it. Later insertions for the same
// key refill fields but do not extend the deadline.
func (a *Aggregator) Upsert(key string, kind bucketKind, apply func(*Bucket)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[key]
	if !ok {
		now := a.now()
		b = &Bucket{
			Key:         key,
			Kind:        kind,
			FirstSeenAt: now,
			deadline:    now.Add(a.window),
		}
		a.buckets[key] = b
		a.queue = append(a.queue, b)

		if len(a.queue) == 1 {
			a.timer.Reset(a.window)
		}
	}

	apply(b)
}

// Flush forces the bucket for key to flush immediately, if one exists.
func (a *Aggregator) Flush(ctx context.Context, key string) {
	a.mu.Lock()
	b, ok := a.buckets[key]
	if ok {
		delete(a.buckets, key)
	}
	a.mu.Unlock()

	if ok {
		a.dispatch(ctx, b)
	}
}

// FlushAll forces every live bucket to flush, e.g. on shutdown.
func (a *Aggregator) FlushAll(ctx context.Context) {
	a.mu.Lock()
	a.timer.Stop()
	due := make([]*Bucket, 0, len(a.buckets))
	for _, b := range a.queue {
		if a.buckets[b.Key] == b {
			delete(a.buckets, b.Key)
			due = append(due, b)
		}
	}
	a.queue = nil
	a.mu.Unlock()

	for _, b := range due {
		a.dispatch(ctx, b)
	}
}

// onTimer flushes every bucket whose deadline has passed and re-arms the
// timer for the next one. Removal from the map under the lock is what makes
// flush-exactly-once hold: a bucket can only be popped here or in Flush,
// never both.
func (a *Aggregator) onTimer() {
	a.mu.Lock()
	now := a.now()

	var due []*Bucket
	for len(a.queue) > 0 && !a.queue[0].deadline.After(now) {
		b := a.queue[0]
		a.queue = a.queue[1:]

		// Skip queue entries that were already force-flushed.
		if a.buckets[b.Key] == b {
			delete(a.buckets, b.Key)
			due = append(due, b)
		}
	}

	if len(a.queue) > 0 {
		a.timer.Reset(a.queue[0].deadline.Sub(now))
	}
	a.mu.Unlock()

	ctx := context.Background()
	for _, b := range due {
		a.dispatch(ctx, b)
	}
}

// dispatch runs the flush handler for one bucket, containing its failure.
func (a *Aggregator) dispatch(ctx context.Context, b *Bucket) {
	if err := a.flush(ctx, b); err != nil {
		logger.Error(ctx, "bucket flush failed",
			"bucket.key", b.Key,
			"error", err,
		)
		return
	}
	a.flushed.Add(ctx, 1)
}

// Len reports how many buckets are currently accumulating.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}
