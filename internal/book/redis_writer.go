package book

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"
)

// RedisClient abstracts the Redis operations used by RedisWriter.
// In production this is satisfied by a thin wrapper over *redis.Client;
// in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// mirrorSnapshot holds the last-written fields so duplicate writes can be
// skipped when only deeper levels changed.
type mirrorSnapshot struct {
	Bid    string
	Ask    string
	Spread string
}

// RedisWriter mirrors the latest merged summary into a single Redis hash:
//
//	Key:    book:{pair}:summary
//	Fields: bid, ask, spread, ts
//
// The hash is overwritten in place, so only the current value exists and no
// history is kept. Writes are decoupled from the publisher feed by an
// internal buffer so a slow Redis never stalls (or tears down) the
// subscription.
type RedisWriter struct {
	client RedisClient
	key    string
	feed   <-chan Summary
	buf    chan Summary

	mu    sync.Mutex
	last  mirrorSnapshot
	wrote bool
}

// NewRedisWriter creates a RedisWriter for the given pair symbol, reading
// summaries from feed (typically a Subscription's Updates channel).
func NewRedisWriter(client RedisClient, pair string, feed <-chan Summary) *RedisWriter {
	return &RedisWriter{
		client: client,
		key:    fmt.Sprintf("book:%s:summary", pair),
		feed:   feed,
		buf:    make(chan Summary, 256),
	}
}

// Run starts two goroutines: one draining the feed into the internal buffer
// so the publisher is never blocked, one flushing buffered summaries to
// Redis. It blocks until ctx is cancelled.
func (rw *RedisWriter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(rw.buf)
		for {
			select {
			case <-ctx.Done():
				return
			case summary, ok := <-rw.feed:
				if !ok {
					return
				}
				select {
				case rw.buf <- summary:
				default:
					// Buffer full: drop, a newer summary is on its way.
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case summary, ok := <-rw.buf:
				if !ok {
					return
				}
				rw.write(ctx, summary)
			}
		}
	}()

	wg.Wait()
}

// write extracts best bid/ask/spread, checks for duplicates, and issues an
// HSET.
func (rw *RedisWriter) write(ctx context.Context, summary Summary) {
	cur := mirrorSnapshot{
		Bid:    bestPrice(summary.Bids),
		Ask:    bestPrice(summary.Asks),
		Spread: formatPrice(summary.Spread),
	}

	rw.mu.Lock()
	if rw.wrote && cur == rw.last {
		rw.mu.Unlock()
		return
	}
	rw.last = cur
	rw.wrote = true
	rw.mu.Unlock()

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	err := rw.client.HSet(ctx, rw.key, "bid", cur.Bid, "ask", cur.Ask, "spread", cur.Spread, "ts", ts)
	if err != nil {
		log.Printf("redis: hset %s: %v", rw.key, err)
	}
}

// bestPrice returns the top-ranked price as a string, "0" for an empty side.
// Sides arrive pre-sorted from the Store, so the best level is index 0.
func bestPrice(levels []Level) string {
	if len(levels) == 0 {
		return "0"
	}
	return formatPrice(levels[0].Price)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
