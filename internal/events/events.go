// Package events defines the tagged union of ledger-level occurrences the
// pipeline cares about. Raw stream payloads carry a string tag per event;
// this package decodes them into an explicit Kind at the stream boundary so
// the classifier can match exhaustively instead of dispatching on strings.
package events

import (
	"context"
	"encoding/json"

	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/types"
)

// Kind identifies the kind of a ledger event.
type Kind int

const (
	// KindUnknown marks an event whose wire tag is not recognized. Such
	// events are logged and skipped by the classifier.
	KindUnknown Kind = iota

	// Validator stake and lifecycle events.
	KindStakeIncreased
	KindStakeDecreased
	KindValidatorSuspended
	KindValidatorResumed
	KindValidatorRemoved

	// Validator commission rate events. A single rate update by the operator
	// may surface as two separate events, one per rate.
	KindBakingRateChanged
	KindTransactionFeeRateChanged

	// Delegation events. A new delegator joining a pool emits
	// DelegationAdded, DelegationTargetChanged and DelegationStakeIncreased
	// in the same transaction.
	KindDelegationAdded
	KindDelegationRemoved
	KindDelegationTargetChanged
	KindDelegationStakeIncreased

	// KindRewardPaid is a block-level ("special") event not attached to any
	// single transaction.
	KindRewardPaid
)

// String returns the wire tag for the kind, mainly for logging.
func (k Kind) String() string {
	for tag, kind := range kindByTag {
		if kind == k {
			return tag
		}
	}
	return "unknown"
}

// kindByTag maps raw stream tags to event kinds.
var kindByTag = map[string]Kind{
	"stakeIncreased":            KindStakeIncreased,
	"stakeDecreased":            KindStakeDecreased,
	"validatorSuspended":        KindValidatorSuspended,
	"validatorResumed":          KindValidatorResumed,
	"validatorRemoved":          KindValidatorRemoved,
	"bakingRateUpdated":         KindBakingRateChanged,
	"transactionFeeRateUpdated": KindTransactionFeeRateChanged,
	"delegationAdded":           KindDelegationAdded,
	"delegationRemoved":         KindDelegationRemoved,
	"delegationTargetUpdated":   KindDelegationTargetChanged,
	"delegationStakeIncreased":  KindDelegationStakeIncreased,
	"rewardPaid":                KindRewardPaid,
}

// Event is one decoded ledger occurrence. Which fields are populated depends
// on Kind; pointer fields are nil when the wire payload omitted or failed to
// parse them ("field absent" is data, not an error).
type Event struct {
	Kind Kind   // decoded event kind
	Tag  string // original wire tag, kept for logging unknown events

	ValidatorID uint64        // validator the event concerns, if any
	DelegatorID uint64        // delegator the event concerns, if any
	Account     string        // account address the event concerns, if any
	Target      *uint64       // delegation target validator id
	Amount      *types.Amount // stake/reward amount
	Rate        *float64      // commission rate for rate-change events
}

// wireEvent mirrors the raw JSON shape of an event on the stream.
type wireEvent struct {
	Tag         string   `json:"tag"`
	ValidatorID uint64   `json:"validatorId"`
	DelegatorID uint64   `json:"delegatorId"`
	Account     string   `json:"account"`
	Target      *uint64  `json:"target"`
	Amount      *string  `json:"amount"`
	Rate        *float64 `json:"rate"`
}

// Decode converts one raw stream event into an Event. Unrecognized tags
// decode to KindUnknown rather than an error; an unparseable amount decodes
// to an absent Amount.
func Decode(raw json.RawMessage) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, err
	}

	ev := Event{
		Kind:        kindByTag[w.Tag],
		Tag:         w.Tag,
		ValidatorID: w.ValidatorID,
		DelegatorID: w.DelegatorID,
		Account:     w.Account,
		Target:      w.Target,
		Rate:        w.Rate,
	}

	if w.Amount != nil {
		if amount, err := types.ParseAmount(*w.Amount); err == nil {
			ev.Amount = &amount
		}
	}

	return ev, nil
}

// DecodeAll converts a slice of raw stream events, skipping entries that are
// not valid JSON objects and returning the rest. A malformed entry costs only
// itself, never its siblings or the block carrying it.
func DecodeAll(ctx context.Context, raw []json.RawMessage) []Event {
	decoded := make([]Event, 0, len(raw))
	for _, r := range raw {
		ev, err := Decode(r)
		if err != nil {
			logger.Warn(ctx, "skipping malformed ledger event",
				"event.size", len(r),
				"error", err,
			)
			continue
		}
		decoded = append(decoded, ev)
	}
	return decoded
}
