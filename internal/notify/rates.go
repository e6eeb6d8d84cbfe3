package notify

import (
	"context"
	"math"
	"sync"
)

// rateEpsilon is the tolerance for treating two floating commission rates as
// equal.
const rateEpsilon = 1e-9

// RateStore persists the commission rates as they were last communicated to
// users, per validator. Dedup is against last-notified rates, not currently
// stored chain state: re-observing an unchanged rate stays silent, while a
// change back to a previously seen value still notifies.
type RateStore interface {
	// LastNotifiedRates returns the last communicated baking and transaction
	// fee rates for the validator; a nil rate was never communicated.
	LastNotifiedRates(ctx context.Context, validatorID uint64) (baking, fee *float64, err error)

	// SaveNotifiedRates records the rates just communicated, overwriting the
	// previous ones. Nil rates leave the stored value untouched.
	SaveNotifiedRates(ctx context.Context, validatorID uint64, baking, fee *float64) error
}

// rateChanged reports whether an observed rate differs from the last
// notified one beyond floating tolerance. An unobserved rate never counts as
// changed; an observed rate with no notified predecessor always does.
func rateChanged(observed, lastNotified *float64) bool {
	if observed == nil {
		return false
	}
	if lastNotified == nil {
		return true
	}
	return math.Abs(*observed-*lastNotified) > rateEpsilon
}

// MemoryRateStore is an in-process RateStore, used in tests and when running
// without redis.
type MemoryRateStore struct {
	mu    sync.Mutex
	rates map[uint64]struct{ baking, fee *float64 }
}

var _ RateStore = (*MemoryRateStore)(nil)

// NewMemoryRateStore creates an empty MemoryRateStore.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{
		rates: make(map[uint64]struct{ baking, fee *float64 }),
	}
}

func (s *MemoryRateStore) LastNotifiedRates(_ context.Context, validatorID uint64) (*float64, *float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rates[validatorID]
	return r.baking, r.fee, nil
}

func (s *MemoryRateStore) SaveNotifiedRates(_ context.Context, validatorID uint64, baking, fee *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rates[validatorID]
	if baking != nil {
		v := *baking
		r.baking = &v
	}
	if fee != nil {
		v := *fee
		r.fee = &v
	}
	s.rates[validatorID] = r
	return nil
}
