package book

import (
	"testing"

	"github.com/fathom-terminal/fathom/internal/adapter"
)

func levels(pairs ...float64) []adapter.PriceLevel {
	out := make([]adapter.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, adapter.PriceLevel{Price: pairs[i], Amount: pairs[i+1]})
	}
	return out
}

func assertSide(t *testing.T, got []Level, want []Level) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("side length: want %d, got %d (%+v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("level %d: want %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestStore_MergeTwoExchanges(t *testing.T) {
	s := NewStore()

	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBinance,
		Asks:     levels(100.0, 1.0, 101.0, 2.0),
		Bids:     levels(99.0, 1.0),
	})
	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBitstamp,
		Asks:     levels(100.5, 0.5),
		Bids:     levels(99.5, 2.0),
	})

	got, _ := s.Snapshot()

	assertSide(t, got.Asks, []Level{
		{Exchange: adapter.ExchangeBinance, Price: 100.0, Amount: 1.0},
		{Exchange: adapter.ExchangeBitstamp, Price: 100.5, Amount: 0.5},
		{Exchange: adapter.ExchangeBinance, Price: 101.0, Amount: 2.0},
	})
	assertSide(t, got.Bids, []Level{
		{Exchange: adapter.ExchangeBitstamp, Price: 99.5, Amount: 2.0},
		{Exchange: adapter.ExchangeBinance, Price: 99.0, Amount: 1.0},
	})
	if got.Spread != 0.5 {
		t.Fatalf("spread: want 0.5, got %v", got.Spread)
	}
}

func TestStore_ExchangeExclusiveReplacement(t *testing.T) {
	s := NewStore()

	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBinance,
		Asks:     levels(100.0, 1.0, 101.0, 2.0),
		Bids:     levels(99.0, 1.0),
	})
	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBitstamp,
		Asks:     levels(100.5, 0.5),
		Bids:     levels(99.5, 2.0),
	})

	// Re-merge binance with a completely different book; every prior
	// binance level must be gone, including its bids.
	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBinance,
		Asks:     levels(102.0, 1.0),
		Bids:     nil,
	})

	got, _ := s.Snapshot()

	assertSide(t, got.Asks, []Level{
		{Exchange: adapter.ExchangeBitstamp, Price: 100.5, Amount: 0.5},
		{Exchange: adapter.ExchangeBinance, Price: 102.0, Amount: 1.0},
	})
	assertSide(t, got.Bids, []Level{
		{Exchange: adapter.ExchangeBitstamp, Price: 99.5, Amount: 2.0},
	})
	if got.Spread != 100.5-99.5 {
		t.Fatalf("spread: want 1.0, got %v", got.Spread)
	}
}

func TestStore_DepthBound(t *testing.T) {
	s := NewStore()

	// 11 distinct ask levels in one snapshot: only the 10 lowest survive.
	var asks []adapter.PriceLevel
	for i := 0; i < 11; i++ {
		asks = append(asks, adapter.PriceLevel{Price: 100.0 + float64(i), Amount: 1.0})
	}
	s.Apply(adapter.BookUpdate{Exchange: adapter.ExchangeBinance, Asks: asks})

	got, _ := s.Snapshot()
	if len(got.Asks) != DepthLimit {
		t.Fatalf("asks length: want %d, got %d", DepthLimit, len(got.Asks))
	}
	if got.Asks[0].Price != 100.0 || got.Asks[DepthLimit-1].Price != 109.0 {
		t.Fatalf("expected lowest 10 asks 100..109, got %v..%v",
			got.Asks[0].Price, got.Asks[DepthLimit-1].Price)
	}

	// Both venues reporting full depth still honours the bound.
	var bids []adapter.PriceLevel
	for i := 0; i < 10; i++ {
		bids = append(bids, adapter.PriceLevel{Price: 99.0 - float64(i), Amount: 1.0})
	}
	s.Apply(adapter.BookUpdate{Exchange: adapter.ExchangeBinance, Bids: bids})
	s.Apply(adapter.BookUpdate{Exchange: adapter.ExchangeBitstamp, Bids: bids})

	got, _ = s.Snapshot()
	if len(got.Bids) != DepthLimit {
		t.Fatalf("bids length: want %d, got %d", DepthLimit, len(got.Bids))
	}
}

func TestStore_Ordering(t *testing.T) {
	s := NewStore()

	// Deliberately unsorted wire order; the store must rank them.
	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBinance,
		Asks:     levels(103.0, 1, 101.0, 1, 102.0, 1),
		Bids:     levels(97.0, 1, 99.0, 1, 98.0, 1),
	})

	got, _ := s.Snapshot()
	for i := 1; i < len(got.Asks); i++ {
		if got.Asks[i].Price < got.Asks[i-1].Price {
			t.Fatalf("asks not ascending: %+v", got.Asks)
		}
	}
	for i := 1; i < len(got.Bids); i++ {
		if got.Bids[i].Price > got.Bids[i-1].Price {
			t.Fatalf("bids not descending: %+v", got.Bids)
		}
	}
}

func TestStore_TieKeepsInsertionOrder(t *testing.T) {
	s := NewStore()

	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBinance,
		Asks:     levels(100.0, 1.0),
	})
	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBitstamp,
		Asks:     levels(100.0, 2.0),
	})

	got, _ := s.Snapshot()
	assertSide(t, got.Asks, []Level{
		{Exchange: adapter.ExchangeBinance, Price: 100.0, Amount: 1.0},
		{Exchange: adapter.ExchangeBitstamp, Price: 100.0, Amount: 2.0},
	})
}

func TestStore_SpreadHeldWhenSideEmpty(t *testing.T) {
	s := NewStore()

	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBinance,
		Asks:     levels(100.0, 1.0),
		Bids:     levels(99.0, 1.0),
	})
	got, _ := s.Snapshot()
	if got.Spread != 1.0 {
		t.Fatalf("spread: want 1.0, got %v", got.Spread)
	}

	// Replace with a bid-less book: the previous spread is retained.
	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBinance,
		Asks:     levels(100.0, 1.0),
	})
	got, _ = s.Snapshot()
	if len(got.Bids) != 0 {
		t.Fatalf("expected empty bids, got %+v", got.Bids)
	}
	if got.Spread != 1.0 {
		t.Fatalf("spread should hold previous value 1.0, got %v", got.Spread)
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()

	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBinance,
		Asks:     levels(100.0, 1.0),
		Bids:     levels(99.0, 1.0),
	})
	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBitstamp,
		Asks:     levels(100.5, 0.5),
		Bids:     levels(99.5, 2.0),
	})

	_, before := s.Snapshot()
	s.Clear(adapter.ExchangeBinance)

	got, after := s.Snapshot()
	if after == before {
		t.Fatal("Clear with levels present should bump the version")
	}
	assertSide(t, got.Asks, []Level{{Exchange: adapter.ExchangeBitstamp, Price: 100.5, Amount: 0.5}})
	assertSide(t, got.Bids, []Level{{Exchange: adapter.ExchangeBitstamp, Price: 99.5, Amount: 2.0}})
	if got.Spread != 1.0 {
		t.Fatalf("spread after clear: want 1.0, got %v", got.Spread)
	}

	// Clearing an absent exchange is a silent no-op.
	s.Clear(adapter.ExchangeBinance)
	_, v := s.Snapshot()
	if v != after {
		t.Fatal("Clear of absent exchange should not bump the version")
	}
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	s := NewStore()
	s.Apply(adapter.BookUpdate{
		Exchange: adapter.ExchangeBinance,
		Asks:     levels(100.0, 1.0),
		Bids:     levels(99.0, 1.0),
	})

	got, _ := s.Snapshot()
	got.Asks[0].Price = 1.0

	fresh, _ := s.Snapshot()
	if fresh.Asks[0].Price != 100.0 {
		t.Fatal("mutating a snapshot must not affect the store")
	}
}

func TestSummary_Equal(t *testing.T) {
	a := Summary{
		Spread: 0.5,
		Asks:   []Level{{Exchange: adapter.ExchangeBinance, Price: 100, Amount: 1}},
		Bids:   []Level{{Exchange: adapter.ExchangeBitstamp, Price: 99.5, Amount: 2}},
	}
	b := Summary{
		Spread: 0.5,
		Asks:   []Level{{Exchange: adapter.ExchangeBinance, Price: 100, Amount: 1}},
		Bids:   []Level{{Exchange: adapter.ExchangeBitstamp, Price: 99.5, Amount: 2}},
	}
	if !a.Equal(b) {
		t.Fatal("identical summaries should be equal")
	}

	b.Asks[0].Amount = 2
	if a.Equal(b) {
		t.Fatal("summaries differing in one amount should not be equal")
	}
}
