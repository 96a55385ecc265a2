package bitstamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/fathom-terminal/fathom/internal/adapter"
)

// DefaultEndpoint is the Bitstamp WebSocket endpoint.
const DefaultEndpoint = "wss://ws.bitstamp.net"

// Channel returns the live order book channel name for a currency pair,
// e.g. "order_book_ethbtc". The channel pushes a full snapshot of the top
// 100 levels on every change.
func Channel(base, quote string) string {
	return "order_book_" + strings.ToLower(base+quote)
}

// subscribeMsg is the bts:subscribe handshake envelope.
type subscribeMsg struct {
	Event string `json:"event"`
	Data  struct {
		Channel string `json:"channel"`
	} `json:"data"`
}

// rawEnvelope is used for event-type detection before full parsing.
type rawEnvelope struct {
	Event string `json:"event"`
}

// rawBookEvent is a live order book frame as received over the wire.
type rawBookEvent struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Data    struct {
		Timestamp string     `json:"timestamp"`
		Bids      [][]string `json:"bids"`
		Asks      [][]string `json:"asks"`
	} `json:"data"`
}

// Adapter normalises Bitstamp live order book frames into BookUpdate values.
type Adapter struct {
	ws      *adapter.WSClient
	updates chan adapter.BookUpdate
}

// New creates an Adapter backed by the given WSClient.
// The caller must have already called ws.Connect.
func New(ws *adapter.WSClient) *Adapter {
	return &Adapter{
		ws:      ws,
		updates: make(chan adapter.BookUpdate, 1024),
	}
}

// Updates returns the channel of normalised book snapshots.
func (a *Adapter) Updates() <-chan adapter.BookUpdate {
	return a.updates
}

// Subscribe sends the order book subscription for the given pair. Bitstamp
// sessions lose their subscriptions on reconnect, so this is also wired as
// the WSClient's OnReconnect callback.
func (a *Adapter) Subscribe(base, quote string) {
	msg := subscribeMsg{Event: "bts:subscribe"}
	msg.Data.Channel = Channel(base, quote)
	b, _ := json.Marshal(msg)
	a.ws.Send(b)
}

// Run reads the WSClient fan-out, parses book frames and pushes normalised
// snapshots. Non-data events (subscription acks, heartbeats) are skipped;
// malformed frames are logged and dropped. Blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) {
	sub := a.ws.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			update, err := Parse(raw)
			if errors.Is(err, adapter.ErrNotData) {
				continue
			}
			if err != nil {
				log.Printf("bitstamp: dropping message: %v", err)
				continue
			}
			select {
			case a.updates <- update:
			default:
				log.Printf("bitstamp: updates channel full, dropping snapshot")
			}
		}
	}
}

// Parse converts one raw frame into a BookUpdate. Frames whose event is not
// "data" return ErrNotData; malformed frames return a *ParseError.
func Parse(raw []byte) (adapter.BookUpdate, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return adapter.BookUpdate{}, &adapter.ParseError{
			Exchange: adapter.ExchangeBitstamp, Reason: "invalid JSON", Err: err,
		}
	}
	if env.Event != "data" {
		// bts:subscription_succeeded, bts:heartbeat, bts:error and friends.
		return adapter.BookUpdate{}, adapter.ErrNotData
	}

	var ev rawBookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return adapter.BookUpdate{}, &adapter.ParseError{
			Exchange: adapter.ExchangeBitstamp, Reason: "bad book event", Err: err,
		}
	}

	bids, err := parseLevels(ev.Data.Bids)
	if err != nil {
		return adapter.BookUpdate{}, err
	}
	asks, err := parseLevels(ev.Data.Asks)
	if err != nil {
		return adapter.BookUpdate{}, err
	}

	return adapter.BookUpdate{
		Exchange:  adapter.ExchangeBitstamp,
		Bids:      bids,
		Asks:      asks,
		Timestamp: parseTimestamp(ev.Data.Timestamp),
	}, nil
}

// parseLevels converts raw [price, amount] string pairs into PriceLevels,
// preserving wire order. Any bad field fails the whole frame.
func parseLevels(raw [][]string) ([]adapter.PriceLevel, error) {
	levels := make([]adapter.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, &adapter.ParseError{
				Exchange: adapter.ExchangeBitstamp,
				Reason:   fmt.Sprintf("level has %d fields, want 2", len(pair)),
			}
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, &adapter.ParseError{
				Exchange: adapter.ExchangeBitstamp, Reason: "non-numeric price", Err: err,
			}
		}
		amount, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, &adapter.ParseError{
				Exchange: adapter.ExchangeBitstamp, Reason: "non-numeric amount", Err: err,
			}
		}
		levels = append(levels, adapter.PriceLevel{Price: price, Amount: amount})
	}
	return levels, nil
}

// parseTimestamp converts a Unix-second string to time.Time, falling back to
// now for absent or unparsable values.
func parseTimestamp(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
