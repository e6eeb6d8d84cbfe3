// Package rpc implements the ledger node interfaces over the node's JSON-RPC
// API and its websocket finalized-block subscription.
package rpc

import (
	"time"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/correlate"
	"github.com/mtessaro/stakewatch/internal/pkg/resilience/retry"
	"github.com/mtessaro/stakewatch/internal/pkg/transport/jsonrpc"
)

const (
	// defaultFallbackAttempts is the total number of tries for a lazy
	// transaction read: one initial attempt plus two retries.
	defaultFallbackAttempts = 3

	// defaultFallbackDelay is the constant pause between fallback attempts,
	// chosen to straddle the node's indexing lag for fresh transactions.
	defaultFallbackDelay = 600 * time.Millisecond
)

// client talks to a single ledger node. The JSON-RPC connection serves block
// and transaction queries; the websocket endpoint serves the finalized-block
// subscription.
type client struct {
	conn        jsonrpc.Client
	wsEndpoint  string
	fallbackTry retry.Retry
}

var (
	_ chainstream.LedgerNode   = (*client)(nil)
	_ correlate.FallbackReader = (*client)(nil)
)

// Option configures the client.
type Option func(*client)

// WithFallbackRetry overrides the retry policy for lazy transaction reads.
// Default: 3 attempts with a fixed 600ms delay.
func WithFallbackRetry(r retry.Retry) Option {
	return func(c *client) {
		c.fallbackTry = r
	}
}

// NewClient creates a ledger node client over the given JSON-RPC connection
// and websocket subscription endpoint.
func NewClient(conn jsonrpc.Client, wsEndpoint string, opts ...Option) *client {
	c := &client{
		conn:       conn,
		wsEndpoint: wsEndpoint,
		fallbackTry: retry.New(
			retry.WithAttempts(defaultFallbackAttempts),
			retry.WithDelay(defaultFallbackDelay),
			retry.WithFixedDelay(),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
