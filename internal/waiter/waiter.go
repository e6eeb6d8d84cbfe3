// Package waiter maintains the registry of pending correlation requests: one
// short-lived waiter per (role, normalized address), each representing an
// in-progress off-chain verification attempt waiting for an on-chain
// transaction carrying the expected one-time memo.
package waiter

import "time"

// Role distinguishes the two independent waiter keyspaces. A Validator and a
// Delegator waiter may exist for the same address at the same time.
type Role string

const (
	RoleValidator Role = "validator"
	RoleDelegator Role = "delegator"
)

// Correlation is the payload delivered to OnSuccess exactly once when a
// transaction from the waiter's address carries the expected memo.
type Correlation struct {
	TxHash       string // hash of the matching transaction
	BlockHash    string // hash of the block containing it
	Sender       string // normalized sender address
	MemoText     string // memo as observed on chain
	MemoHex      string // raw memo bytes in hex, when the stream provided them
	TimestampISO string // block timestamp in ISO-8601, empty if unknown
	Context      any    // opaque correlation context supplied at registration
}

// Mismatch is the payload delivered to OnWrongMemo when a transaction from
// the waiter's address carries a memo that does not match. The waiter stays
// active; the user may retry.
type Mismatch struct {
	ExpectedMemo string // normalized memo the waiter expects
	ObservedMemo string // normalized memo observed on chain
	Context      any    // opaque correlation context supplied at registration
}

// Expiry is the payload delivered to OnExpire exactly once when a waiter
// outlives its TTL without matching.
type Expiry struct {
	TTL     time.Duration // configured registry TTL
	Context any           // opaque correlation context supplied at registration
}

// Callbacks are the hooks a verification flow provides at registration. Nil
// callbacks are skipped. Callbacks may be invoked from the block processing
// loop or the prune timer and must not block for long.
type Callbacks struct {
	OnSuccess   func(c Correlation)
	OnWrongMemo func(m Mismatch)
	OnExpire    func(e Expiry)
}

// Waiter is one pending correlation request. It is owned exclusively by the
// Registry from registration until success, cancellation or expiry.
type Waiter struct {
	Role         Role      // waiter keyspace
	Address      string    // normalized sender address to watch for
	ExpectedMemo string    // normalized memo to match against
	Context      any       // opaque context echoed back in callbacks
	CreatedAt    time.Time // registration time, drives TTL expiry

	id        string // distinguishes this waiter from later overwrites
	callbacks Callbacks
}

// key identifies the registry slot a waiter occupies.
type key struct {
	role    Role
	address string
}
