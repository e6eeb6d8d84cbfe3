package waiter

import (
	"context"
	"sync"
	"time"

	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/normalize"
	"github.com/mtessaro/stakewatch/internal/pkg/validator"

	"github.com/google/uuid"
)

const (
	// defaultTTL is how long a waiter may stay registered before it expires.
	defaultTTL = 20 * time.Minute

	// DefaultPruneInterval is the suggested cadence for StartPruning.
	DefaultPruneInterval = time.Minute
)

// CancelFunc removes the waiter it was returned for, if that exact waiter is
// still registered. Calling it after the waiter already matched, expired or
// was overwritten is a no-op, as is calling it twice.
type CancelFunc func()

// Registry is the concurrent map of pending correlation requests. It is
// mutated by verification-flow handlers (Register/cancel), the prune timer,
// and the block processing loop (removal on success); a single mutex keeps
// every mutation atomic with respect to concurrent lookups.
type Registry struct {
	mu      sync.Mutex
	waiters map[key]*Waiter

	ttl time.Duration
	now func() time.Time
}

// registration carries the validated Register input.
type registration struct {
	Address      string `validate:"required"`
	ExpectedMemo string `validate:"required"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the default 20 minute waiter TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		waiters: make(map[key]*Waiter),
		ttl:     defaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a waiter for (role, normalized address), overwriting any
// previous waiter for the same key (last-writer-wins, no queuing). The
// expected memo is normalized before storage so all later comparisons happen
// on canonical forms.
//
// The returned CancelFunc deletes exactly this waiter if it is still present.
func (r *Registry) Register(role Role, address, expectedMemo string, wctx any, cb Callbacks) (CancelFunc, error) {
	in := registration{
		Address:      normalize.Address(address),
		ExpectedMemo: normalize.Memo(expectedMemo),
	}
	if err := validator.Validate(in); err != nil {
		return nil, err
	}

	w := &Waiter{
		Role:         role,
		Address:      in.Address,
		ExpectedMemo: in.ExpectedMemo,
		Context:      wctx,
		CreatedAt:    r.now(),
		id:           uuid.NewString(),
		callbacks:    cb,
	}

	r.mu.Lock()
	r.waiters[key{role: role, address: in.Address}] = w
	r.mu.Unlock()

	return func() { r.Remove(w) }, nil
}

// Lookup returns the current waiter for (role, normalized address), or nil
// and false when none is registered.
func (r *Registry) Lookup(role Role, address string) (*Waiter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.waiters[key{role: role, address: normalize.Address(address)}]
	return w, ok
}

// Remove deletes exactly the given waiter if it still occupies its slot. It
// returns false when the waiter already matched, expired, was canceled, or
// was overwritten by a newer registration — which makes success delivery and
// cancellation idempotent.
func (r *Registry) Remove(w *Waiter) bool {
	if w == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{role: w.Role, address: w.Address}
	current, ok := r.waiters[k]
	if !ok || current.id != w.id {
		return false
	}

	delete(r.waiters, k)
	return true
}

// Len reports how many waiters are currently registered across both roles.
// The correlator uses it to skip fallback reads when nobody is waiting.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Prune removes every waiter older than the TTL and invokes its OnExpire
// callback once, outside the registry lock.
func (r *Registry) Prune(ctx context.Context, now time.Time) int {
	var expired []*Waiter

	r.mu.Lock()
	for k, w := range r.waiters {
		if now.Sub(w.CreatedAt) > r.ttl {
			delete(r.waiters, k)
			expired = append(expired, w)
		}
	}
	r.mu.Unlock()

	for _, w := range expired {
		logger.Info(ctx, "verification waiter expired",
			"waiter.role", string(w.Role),
			"waiter.address", w.Address,
		)
		if w.callbacks.OnExpire != nil {
			w.callbacks.OnExpire(Expiry{TTL: r.ttl, Context: w.Context})
		}
	}

	return len(expired)
}

// StartPruning launches a background goroutine that prunes expired waiters
// on the given interval until the context is canceled.
func (r *Registry) StartPruning(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.Prune(ctx, now)
			}
		}
	}()
}

// Succeed invokes the waiter's OnSuccess callback, if set. The caller must
// have removed the waiter from the registry first to keep delivery
// exactly-once.
func (w *Waiter) Succeed(c Correlation) {
	if w.callbacks.OnSuccess != nil {
		c.Context = w.Context
		w.callbacks.OnSuccess(c)
	}
}

// RejectMemo invokes the waiter's OnWrongMemo callback, if set. The waiter
// stays registered.
func (w *Waiter) RejectMemo(observedMemo string) {
	if w.callbacks.OnWrongMemo != nil {
		w.callbacks.OnWrongMemo(Mismatch{
			ExpectedMemo: w.ExpectedMemo,
			ObservedMemo: observedMemo,
			Context:      w.Context,
		})
	}
}
