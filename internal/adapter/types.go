package adapter

import (
	"errors"
	"fmt"
	"time"
)

// Exchange identifies the source venue of market data. The string value is
// also the display label clients see on merged levels.
type Exchange string

const (
	ExchangeBinance  Exchange = "binance"
	ExchangeBitstamp Exchange = "bitstamp"
)

// PriceLevel is a single quote: an amount offered or wanted at a price.
type PriceLevel struct {
	Price  float64
	Amount float64
}

// BookUpdate is the unified full order-book snapshot every exchange adapter
// produces. Downstream consumers (store, publisher) operate on this type
// regardless of origin. Levels are kept in wire order; sorting is the
// aggregated store's responsibility.
type BookUpdate struct {
	Exchange  Exchange
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// ErrNotData marks frames that are well-formed but carry no book data
// (subscribe acks, heartbeats, unrelated events). Ingestion loops skip these
// silently; they are not parse failures.
var ErrNotData = errors.New("adapter: not a data message")

// ParseError reports a malformed feed message. The offending message is
// dropped and the feed keeps running.
type ParseError struct {
	Exchange Exchange
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Exchange, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Exchange, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }
