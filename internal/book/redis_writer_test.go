package book

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fathom-terminal/fathom/internal/adapter"
)

type hsetCall struct {
	key    string
	values []any
}

type mockRedis struct {
	mu    sync.Mutex
	calls []hsetCall
	err   error
}

func (m *mockRedis) HSet(ctx context.Context, key string, values ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, hsetCall{key: key, values: values})
	return m.err
}

func (m *mockRedis) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockRedis) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockRedis) lastCall() hsetCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

func waitForCalls(t *testing.T, m *mockRedis, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.callCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d HSET calls, got %d", n, m.callCount())
}

func fieldValue(t *testing.T, call hsetCall, field string) string {
	t.Helper()
	for i := 0; i+1 < len(call.values); i += 2 {
		if call.values[i] == field {
			s, ok := call.values[i+1].(string)
			if !ok {
				t.Fatalf("field %s is not a string: %T", field, call.values[i+1])
			}
			return s
		}
	}
	t.Fatalf("field %s missing from %v", field, call.values)
	return ""
}

func makeSummary(bid, ask float64) Summary {
	return Summary{
		Spread: ask - bid,
		Bids:   []Level{{Exchange: adapter.ExchangeBinance, Price: bid, Amount: 1}},
		Asks:   []Level{{Exchange: adapter.ExchangeBitstamp, Price: ask, Amount: 1}},
	}
}

func TestRedisWriter_WritesSummaryFields(t *testing.T) {
	mock := &mockRedis{}
	feed := make(chan Summary, 1)
	rw := NewRedisWriter(mock, "ethbtc", feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rw.Run(ctx)

	feed <- makeSummary(99.5, 100.0)
	waitForCalls(t, mock, 1)

	call := mock.lastCall()
	if call.key != "book:ethbtc:summary" {
		t.Fatalf("unexpected key: %s", call.key)
	}
	if got := fieldValue(t, call, "bid"); got != "99.5" {
		t.Fatalf("bid: want 99.5, got %s", got)
	}
	if got := fieldValue(t, call, "ask"); got != "100" {
		t.Fatalf("ask: want 100, got %s", got)
	}
	if got := fieldValue(t, call, "spread"); got != "0.5" {
		t.Fatalf("spread: want 0.5, got %s", got)
	}
	if fieldValue(t, call, "ts") == "" {
		t.Fatal("ts field should be set")
	}
}

func TestRedisWriter_SuppressesDuplicateTopOfBook(t *testing.T) {
	mock := &mockRedis{}
	feed := make(chan Summary, 4)
	rw := NewRedisWriter(mock, "ethbtc", feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rw.Run(ctx)

	feed <- makeSummary(99.5, 100.0)
	waitForCalls(t, mock, 1)

	// Same best bid/ask/spread with a deeper-level change: no new write.
	dup := makeSummary(99.5, 100.0)
	dup.Asks = append(dup.Asks, Level{Exchange: adapter.ExchangeBinance, Price: 101, Amount: 3})
	feed <- dup
	time.Sleep(100 * time.Millisecond)
	if mock.callCount() != 1 {
		t.Fatalf("duplicate top of book should be suppressed, got %d calls", mock.callCount())
	}

	// A moved best ask writes again.
	feed <- makeSummary(99.5, 100.25)
	waitForCalls(t, mock, 2)
	if got := fieldValue(t, mock.lastCall(), "ask"); got != "100.25" {
		t.Fatalf("ask: want 100.25, got %s", got)
	}
}

func TestRedisWriter_EmptySideWritesZero(t *testing.T) {
	mock := &mockRedis{}
	feed := make(chan Summary, 1)
	rw := NewRedisWriter(mock, "ethbtc", feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rw.Run(ctx)

	feed <- Summary{
		Spread: 0.5,
		Asks:   []Level{{Exchange: adapter.ExchangeBinance, Price: 100, Amount: 1}},
	}
	waitForCalls(t, mock, 1)

	if got := fieldValue(t, mock.lastCall(), "bid"); got != "0" {
		t.Fatalf("empty bid side: want 0, got %s", got)
	}
}

func TestRedisWriter_KeepsRunningAfterWriteError(t *testing.T) {
	mock := &mockRedis{}
	mock.setErr(errors.New("connection refused"))
	feed := make(chan Summary, 2)
	rw := NewRedisWriter(mock, "ethbtc", feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rw.Run(ctx)

	feed <- makeSummary(99.5, 100.0)
	waitForCalls(t, mock, 1)

	// Redis recovers; the next changed summary still lands.
	mock.setErr(nil)
	feed <- makeSummary(99.5, 100.25)
	waitForCalls(t, mock, 2)
	if got := fieldValue(t, mock.lastCall(), "ask"); got != "100.25" {
		t.Fatalf("ask: want 100.25, got %s", got)
	}
}

func TestRedisWriter_StopsWhenFeedCloses(t *testing.T) {
	mock := &mockRedis{}
	feed := make(chan Summary)
	rw := NewRedisWriter(mock, "ethbtc", feed)

	done := make(chan struct{})
	go func() {
		rw.Run(context.Background())
		close(done)
	}()

	close(feed)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the feed closed")
	}
}
