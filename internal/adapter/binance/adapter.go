package binance

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

// DefaultEndpoint is the Binance spot market-data WebSocket endpoint.
const DefaultEndpoint = "wss://stream.binance.com:9443"

// StreamURL builds the partial-book-depth stream URL for a currency pair.
// The depth10@100ms stream pushes a full 10-level snapshot every 100ms, so
// the subscription rides in the URL and no handshake message is needed.
func StreamURL(endpoint, base, quote string) string {
	return fmt.Sprintf("%s/ws/%s%s@depth10@100ms",
		endpoint, strings.ToLower(base), strings.ToLower(quote))
}

// rawDepth is the partial-depth payload as received over the wire. Prices
// and amounts arrive as decimal strings.
type rawDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Adapter normalises Binance partial-depth frames into BookUpdate values.
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

// Run reads the WSClient fan-out, parses depth frames and pushes normalised
// snapshots. Malformed frames are logged and dropped; the loop never stops
// for a single bad message. Blocks until ctx is cancelled.
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
				log.Printf("binance: dropping message: %v", err)
				continue
			}
			select {
			case a.updates <- update:
			default:
				log.Printf("binance: updates channel full, dropping snapshot")
			}
		}
	}
}

// Parse converts one raw frame into a BookUpdate. Frames carrying no book
// data (subscribe acks, pongs) return ErrNotData; malformed frames return a
// *ParseError.
func Parse(raw []byte) (adapter.BookUpdate, error) {
	var depth rawDepth
	if err := json.Unmarshal(raw, &depth); err != nil {
		return adapter.BookUpdate{}, &adapter.ParseError{
			Exchange: adapter.ExchangeBinance, Reason: "invalid JSON", Err: err,
		}
	}
	if depth.Bids == nil && depth.Asks == nil {
		return adapter.BookUpdate{}, adapter.ErrNotData
	}

	bids, err := parseLevels(depth.Bids)
	if err != nil {
		return adapter.BookUpdate{}, err
	}
	asks, err := parseLevels(depth.Asks)
	if err != nil {
		return adapter.BookUpdate{}, err
	}

	return adapter.BookUpdate{
		Exchange:  adapter.ExchangeBinance,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}, nil
}

// parseLevels converts raw [price, amount] string pairs into PriceLevels,
// preserving wire order. Any bad field fails the whole frame.
func parseLevels(raw [][]string) ([]adapter.PriceLevel, error) {
	levels := make([]adapter.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, &adapter.ParseError{
				Exchange: adapter.ExchangeBinance,
				Reason:   fmt.Sprintf("level has %d fields, want 2", len(pair)),
			}
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, &adapter.ParseError{
				Exchange: adapter.ExchangeBinance, Reason: "non-numeric price", Err: err,
			}
		}
		amount, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, &adapter.ParseError{
				Exchange: adapter.ExchangeBinance, Reason: "non-numeric amount", Err: err,
			}
		}
		levels = append(levels, adapter.PriceLevel{Price: price, Amount: amount})
	}
	return levels, nil
}
