package notify

import (
	"context"
	"fmt"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/events"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"
)

// Classifier dispatches decoded events by kind: events whose business
// meaning is complete on their own go straight to the Notifier; events that
// are only meaningful in combination go through the Aggregator and reach the
// Notifier as one coalesced record when their debounce window elapses.
type Classifier struct {
	notifier Notifier
	rates    RateStore
	agg      *Aggregator
}

// NewClassifier creates a Classifier with its own aggregator.
func NewClassifier(notifier Notifier, rates RateStore, opts ...AggregatorOption) *Classifier {
	c := &Classifier{
		notifier: notifier,
		rates:    rates,
	}
	c.agg = NewAggregator(c.flushBucket, opts...)
	return c
}

// HandleTransactionEvent classifies one event emitted by a transaction.
// Failures of the immediate-dispatch path are logged and contained; they
// never abort sibling events or the block.
func (c *Classifier) HandleTransactionEvent(ctx context.Context, block chainstream.BlockDescriptor, tx chainstream.Transaction, ev events.Event) {
	c.classify(ctx, block, tx.Hash, ev)
}

// HandleSpecialEvent classifies one block-level event not attached to any
// transaction.
func (c *Classifier) HandleSpecialEvent(ctx context.Context, block chainstream.BlockDescriptor, ev events.Event) {
	c.classify(ctx, block, "", ev)
}

// FlushAll forces every accumulating bucket out, e.g. on shutdown.
func (c *Classifier) FlushAll(ctx context.Context) {
	c.agg.FlushAll(ctx)
}

func (c *Classifier) classify(ctx context.Context, block chainstream.BlockDescriptor, txHash string, ev events.Event) {
	switch ev.Kind {
	case events.KindStakeIncreased, events.KindStakeDecreased:
		c.dispatch(ctx, ev, c.notifier.StakeChanged(ctx, StakeChange{
			ValidatorID:  ev.ValidatorID,
			Increased:    ev.Kind == events.KindStakeIncreased,
			Amount:       ev.Amount,
			TxHash:       txHash,
			BlockHash:    block.Hash,
			TimestampISO: block.TimestampISO,
		}))

	case events.KindValidatorSuspended, events.KindValidatorResumed, events.KindValidatorRemoved:
		c.dispatch(ctx, ev, c.notifier.ValidatorLifecycleChanged(ctx, ValidatorLifecycle{
			ValidatorID:  ev.ValidatorID,
			Change:       lifecycleChange(ev.Kind),
			TxHash:       txHash,
			BlockHash:    block.Hash,
			TimestampISO: block.TimestampISO,
		}))

	case events.KindRewardPaid:
		c.dispatch(ctx, ev, c.notifier.RewardPaid(ctx, RewardPayout{
			ValidatorID:  ev.ValidatorID,
			Account:      ev.Account,
			Amount:       ev.Amount,
			BlockHash:    block.Hash,
			TimestampISO: block.TimestampISO,
		}))

	case events.KindDelegationRemoved:
		c.dispatch(ctx, ev, c.notifier.DelegationUpdated(ctx, DelegationUpdate{
			DelegatorID:  ev.DelegatorID,
			Account:      ev.Account,
			Removed:      true,
			TxHash:       txHash,
			BlockHash:    block.Hash,
			TimestampISO: block.TimestampISO,
		}))

	case events.KindBakingRateChanged, events.KindTransactionFeeRateChanged:
		key := commissionKey(ev.ValidatorID)
		c.agg.Upsert(key, bucketCommission, func(b *Bucket) {
			b.ValidatorID = ev.ValidatorID
			if ev.Kind == events.KindBakingRateChanged {
				b.BakingRate = ev.Rate
			} else {
				b.TransactionFeeRate = ev.Rate
			}
			b.TxHash = txHash
			b.BlockHash = block.Hash
			b.TimestampISO = block.TimestampISO
		})

	case events.KindDelegationAdded, events.KindDelegationTargetChanged, events.KindDelegationStakeIncreased:
		key := delegationKey(txHash, ev.DelegatorID)
		var complete bool
		c.agg.Upsert(key, bucketDelegation, func(b *Bucket) {
			b.DelegatorID = ev.DelegatorID
			if ev.Account != "" {
				b.Account = ev.Account
			}
			switch ev.Kind {
			case events.KindDelegationAdded:
				b.Added = true
			case events.KindDelegationTargetChanged:
				b.Target = ev.Target
			case events.KindDelegationStakeIncreased:
				b.Stake = ev.Amount
			}
			b.TxHash = txHash
			b.BlockHash = block.Hash
			b.TimestampISO = block.TimestampISO

			complete = b.onboardingComplete()
		})

		// All three onboarding facets observed; nothing left to wait for.
		if complete {
			c.agg.Flush(ctx, key)
		}

	case events.KindUnknown:
		logger.Debug(ctx, "skipping unrecognized ledger event",
			"event.tag", ev.Tag,
			"block.height", block.Height,
		)
	}
}

// dispatch logs an immediate-dispatch failure without letting it spread.
func (c *Classifier) dispatch(ctx context.Context, ev events.Event, err error) {
	if err != nil {
		logger.Error(ctx, "notification dispatch failed",
			"event.kind", ev.Kind.String(),
			"error", err,
		)
	}
}

// flushBucket turns one expired bucket into its coalesced notification.
func (c *Classifier) flushBucket(ctx context.Context, b *Bucket) error {
	switch b.Kind {
	case bucketCommission:
		return c.flushCommission(ctx, b)
	case bucketDelegation:
		return c.flushDelegation(ctx, b)
	}
	return fmt.Errorf("bucket %q has unknown kind %d", b.Key, b.Kind)
}

// flushCommission compares the bucket's rates against the last-notified ones
// and emits a single commission-changed record only if at least one rate
// actually differs from what was last communicated. Re-observed unchanged
// values stay silent; a change back to a previously seen value notifies.
func (c *Classifier) flushCommission(ctx context.Context, b *Bucket) error {
	lastBaking, lastFee, err := c.rates.LastNotifiedRates(ctx, b.ValidatorID)
	if err != nil {
		return fmt.Errorf("loading last notified rates: %w", err)
	}

	if !rateChanged(b.BakingRate, lastBaking) && !rateChanged(b.TransactionFeeRate, lastFee) {
		return nil
	}

	// Carry both rates, filling the unobserved side from the last notified
	// value so the dispatcher always sees the full picture.
	baking, fee := b.BakingRate, b.TransactionFeeRate
	if baking == nil {
		baking = lastBaking
	}
	if fee == nil {
		fee = lastFee
	}

	if err := c.notifier.CommissionChanged(ctx, CommissionChange{
		ValidatorID:        b.ValidatorID,
		BakingRate:         baking,
		TransactionFeeRate: fee,
		TxHash:             b.TxHash,
		BlockHash:          b.BlockHash,
		TimestampISO:       b.TimestampISO,
	}); err != nil {
		return err
	}

	if err := c.rates.SaveNotifiedRates(ctx, b.ValidatorID, baking, fee); err != nil {
		return fmt.Errorf("saving notified rates: %w", err)
	}
	return nil
}

// flushDelegation emits a "new delegator joined pool" record when all three
// onboarding facets are present, and a partial delegation update otherwise.
func (c *Classifier) flushDelegation(ctx context.Context, b *Bucket) error {
	if b.onboardingComplete() {
		return c.notifier.NewDelegatorJoined(ctx, NewDelegator{
			DelegatorID:  b.DelegatorID,
			Account:      b.Account,
			Target:       *b.Target,
			Stake:        *b.Stake,
			TxHash:       b.TxHash,
			BlockHash:    b.BlockHash,
			TimestampISO: b.TimestampISO,
		})
	}

	return c.notifier.DelegationUpdated(ctx, DelegationUpdate{
		DelegatorID:  b.DelegatorID,
		Account:      b.Account,
		Target:       b.Target,
		Stake:        b.Stake,
		TxHash:       b.TxHash,
		BlockHash:    b.BlockHash,
		TimestampISO: b.TimestampISO,
	})
}

func lifecycleChange(kind events.Kind) LifecycleChange {
	switch kind {
	case events.KindValidatorSuspended:
		return LifecycleSuspended
	case events.KindValidatorResumed:
		return LifecycleResumed
	default:
		return LifecycleRemoved
	}
}

func commissionKey(validatorID uint64) string {
	return fmt.Sprintf("commission:%d", validatorID)
}

// delegationKey keys onboarding buckets by transaction hash when available,
// else by delegator id.
func delegationKey(txHash string, delegatorID uint64) string {
	if txHash != "" {
		return "delegation:" + txHash
	}
	return fmt.Sprintf("delegation:id:%d", delegatorID)
}
