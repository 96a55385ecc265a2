// Package book owns the merged multi-exchange order book view: the Store
// that merges per-exchange snapshots into a ranked, depth-limited summary,
// and the Publisher that fans genuinely-new summaries out to subscribers.
package book

import (
	"sort"
	"sync"

	"github.com/fathom-terminal/fathom/internal/adapter"
)

// DepthLimit caps the number of price levels kept on each side of the
// merged view, independent of how many venues report depth.
const DepthLimit = 10

// Level is one price/amount entry in the merged view, tagged with its
// originating exchange.
type Level struct {
	Exchange adapter.Exchange
	Price    float64
	Amount   float64
}

// Summary is the merged top-of-book view across all venues: up to DepthLimit
// asks ascending by price, up to DepthLimit bids descending by price, and the
// spread between the best ask and best bid.
type Summary struct {
	Spread float64
	Bids   []Level
	Asks   []Level
}

// Equal reports full structural equality. The publisher uses it to suppress
// duplicate consecutive deliveries.
func (s Summary) Equal(o Summary) bool {
	if s.Spread != o.Spread || len(s.Bids) != len(o.Bids) || len(s.Asks) != len(o.Asks) {
		return false
	}
	for i := range s.Bids {
		if s.Bids[i] != o.Bids[i] {
			return false
		}
	}
	for i := range s.Asks {
		if s.Asks[i] != o.Asks[i] {
			return false
		}
	}
	return true
}

// Store is the single shared merged order book. One instance exists per
// process, constructed in main and passed to every ingestion and publisher
// task. All access goes through one mutex; the critical sections never span
// network waits.
type Store struct {
	mu      sync.Mutex
	summary Summary
	version uint64
	changed chan struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{changed: make(chan struct{})}
}

// Apply replaces the exchange's entire contribution with the snapshot's
// levels and recomputes the ranked view: the venue's prior levels are removed
// from both sides, the new quotes appended, each side stably re-sorted and
// truncated to DepthLimit. The spread is recomputed whenever both sides are
// non-empty; with an empty side the previous spread is retained.
func (s *Store) Apply(u adapter.BookUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.Asks = mergeSide(s.summary.Asks, u.Exchange, u.Asks, true)
	s.summary.Bids = mergeSide(s.summary.Bids, u.Exchange, u.Bids, false)
	if len(s.summary.Asks) > 0 && len(s.summary.Bids) > 0 {
		s.summary.Spread = s.summary.Asks[0].Price - s.summary.Bids[0].Price
	}
	s.bump()
}

// Clear removes every level contributed by the exchange, used when a venue's
// feed has gone stale. A no-op (and no notification) if the venue has no
// levels in the current view.
func (s *Store) Clear(ex adapter.Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asks := mergeSide(s.summary.Asks, ex, nil, true)
	bids := mergeSide(s.summary.Bids, ex, nil, false)
	if len(asks) == len(s.summary.Asks) && len(bids) == len(s.summary.Bids) {
		return
	}
	s.summary.Asks = asks
	s.summary.Bids = bids
	if len(asks) > 0 && len(bids) > 0 {
		s.summary.Spread = asks[0].Price - bids[0].Price
	}
	s.bump()
}

// Snapshot returns a deep copy of the current summary and its version.
// The version increments on every mutation, letting readers detect writes.
func (s *Store) Snapshot() (Summary, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{
		Spread: s.summary.Spread,
		Bids:   cloneLevels(s.summary.Bids),
		Asks:   cloneLevels(s.summary.Asks),
	}
	return out, s.version
}

// Changed returns a channel closed on the next mutation. Grab it before
// calling Snapshot so a write between the two calls cannot be missed.
func (s *Store) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// bump must be called with the lock held.
func (s *Store) bump() {
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
}

// mergeSide removes the exchange's existing levels, appends its new quotes,
// stably sorts (ascending for asks, descending for bids) and truncates to
// DepthLimit. Price ties keep insertion order.
func mergeSide(existing []Level, ex adapter.Exchange, quotes []adapter.PriceLevel, ascending bool) []Level {
	merged := make([]Level, 0, len(existing)+len(quotes))
	for _, l := range existing {
		if l.Exchange != ex {
			merged = append(merged, l)
		}
	}
	for _, q := range quotes {
		merged = append(merged, Level{Exchange: ex, Price: q.Price, Amount: q.Amount})
	}

	if ascending {
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].Price < merged[j].Price })
	} else {
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].Price > merged[j].Price })
	}

	if len(merged) > DepthLimit {
		merged = merged[:DepthLimit]
	}
	return merged
}

func cloneLevels(in []Level) []Level {
	if len(in) == 0 {
		return nil
	}
	out := make([]Level, len(in))
	copy(out, in)
	return out
}
