// Package notify classifies decoded ledger events, coalesces bursts of
// related low-level events into single logical records, and hands structured
// outcomes to the external notification dispatcher through the Notifier
// interface. What a notification says to a user, and where it is persisted,
// is the dispatcher's business, not this package's.
package notify

import (
	"context"

	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/types"
)

// LifecycleChange names a validator lifecycle transition.
type LifecycleChange string

const (
	LifecycleSuspended LifecycleChange = "suspended"
	LifecycleResumed   LifecycleChange = "resumed"
	LifecycleRemoved   LifecycleChange = "removed"
)

// StakeChange reports a validator stake increase or decrease.
type StakeChange struct {
	ValidatorID  uint64
	Increased    bool
	Amount       *types.Amount // nil when the stream omitted or mangled it
	TxHash       string
	BlockHash    string
	TimestampISO string
}

// ValidatorLifecycle reports a validator suspension, resume or removal.
type ValidatorLifecycle struct {
	ValidatorID  uint64
	Change       LifecycleChange
	TxHash       string
	BlockHash    string
	TimestampISO string
}

// RewardPayout reports a paid-out reward, typically from a block-level event.
type RewardPayout struct {
	ValidatorID  uint64
	Account      string
	Amount       *types.Amount
	BlockHash    string
	TimestampISO string
}

// CommissionChange reports the coalesced outcome of one or more commission
// rate events for a validator. Both rates are carried even when only one
// changed; a nil rate was neither observed nor previously notified.
type CommissionChange struct {
	ValidatorID        uint64
	BakingRate         *float64
	TransactionFeeRate *float64
	TxHash             string
	BlockHash          string
	TimestampISO       string
}

// NewDelegator reports a completed delegator onboarding: account, target
// pool and initial stake all observed within one aggregation window.
type NewDelegator struct {
	DelegatorID  uint64
	Account      string
	Target       uint64
	Stake        types.Amount
	TxHash       string
	BlockHash    string
	TimestampISO string
}

// DelegationUpdate reports a delegation change that is not a completed
// onboarding: a removal, or a partial set of onboarding facets whose
// aggregation window elapsed.
type DelegationUpdate struct {
	DelegatorID  uint64
	Account      string
	Removed      bool
	Target       *uint64
	Stake        *types.Amount
	TxHash       string
	BlockHash    string
	TimestampISO string
}

// Notifier is the fan-out boundary to the external notification dispatcher.
// Every call carries a structured, role-tagged payload; delivery errors are
// logged by the caller and never abort block processing.
type Notifier interface {
	StakeChanged(ctx context.Context, n StakeChange) error
	ValidatorLifecycleChanged(ctx context.Context, n ValidatorLifecycle) error
	RewardPaid(ctx context.Context, n RewardPayout) error
	CommissionChanged(ctx context.Context, n CommissionChange) error
	NewDelegatorJoined(ctx context.Context, n NewDelegator) error
	DelegationUpdated(ctx context.Context, n DelegationUpdate) error
}

// LogNotifier is a Notifier that only logs each outcome. It stands in for
// the real dispatcher in local runs and smoke tests.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) StakeChanged(ctx context.Context, n StakeChange) error {
	logger.Info(ctx, "stake changed", "validator.id", n.ValidatorID, "increased", n.Increased, "tx.hash", n.TxHash)
	return nil
}

func (LogNotifier) ValidatorLifecycleChanged(ctx context.Context, n ValidatorLifecycle) error {
	logger.Info(ctx, "validator lifecycle changed", "validator.id", n.ValidatorID, "change", string(n.Change))
	return nil
}

func (LogNotifier) RewardPaid(ctx context.Context, n RewardPayout) error {
	logger.Info(ctx, "reward paid", "validator.id", n.ValidatorID, "account", n.Account)
	return nil
}

func (LogNotifier) CommissionChanged(ctx context.Context, n CommissionChange) error {
	logger.Info(ctx, "commission changed", "validator.id", n.ValidatorID)
	return nil
}

func (LogNotifier) NewDelegatorJoined(ctx context.Context, n NewDelegator) error {
	logger.Info(ctx, "new delegator joined pool", "delegator.id", n.DelegatorID, "target", n.Target)
	return nil
}

func (LogNotifier) DelegationUpdated(ctx context.Context, n DelegationUpdate) error {
	logger.Info(ctx, "delegation updated", "delegator.id", n.DelegatorID, "removed", n.Removed)
	return nil
}
