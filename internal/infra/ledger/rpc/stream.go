package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/x/chflow"

	"github.com/gorilla/websocket"
)

// streamBufferSize sizes the delivery channel so a short processing stall
// does not immediately backpressure the websocket read loop.
const streamBufferSize = 64

// finalizedBlockMessage represents one websocket notification on the
// finalized-block subscription.
type finalizedBlockMessage struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// buildStreamURL constructs the subscription URL; a zero fromHeight means
// "start at the current tip" and is left off the query.
func (c *client) buildStreamURL(fromHeight uint64) (string, error) {
	parsed, err := url.Parse(c.wsEndpoint)
	if err != nil {
		return "", fmt.Errorf("parsing websocket endpoint: %w", err)
	}

	switch parsed.Scheme {
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}

	parsed.Path = parsed.Path + "/v1/finalized-blocks"
	if fromHeight > 0 {
		parsed.RawQuery = fmt.Sprintf("fromHeight=%d", fromHeight)
	}

	return parsed.String(), nil
}

// StreamFinalizedBlocksFrom implements chainstream.LedgerNode. The returned
// channel is closed when the subscription ends; the read error that ended it
// is delivered first so the consumer can decide to resubscribe.
func (c *client) StreamFinalizedBlocksFrom(ctx context.Context, fromHeight uint64) (<-chan chainstream.BlockEvent, error) {
	wsURL, err := c.buildStreamURL(fromHeight)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing finalized block subscription: %w", err)
	}

	eventsCh := make(chan chainstream.BlockEvent, streamBufferSize)
	go func() {
		defer close(eventsCh)
		defer conn.Close()

		// ReadMessage does not take a context; closing the connection is the
		// only way to unblock it on cancellation.
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					chflow.Send(ctx, eventsCh, chainstream.BlockEvent{Err: err})
				}
				return
			}

			var msg finalizedBlockMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warn(ctx, "discarding malformed subscription message",
					"message.size", len(data),
					"error", err,
				)
				continue
			}

			event := chainstream.BlockEvent{
				Handle: chainstream.BlockHandle{Height: msg.Height, Hash: msg.Hash},
			}
			if !chflow.Send(ctx, eventsCh, event) {
				return
			}
		}
	}()

	return eventsCh, nil
}
