package book

import (
	"context"
	"errors"
	"log"
	"sync"
)

// subscriberBuffer bounds how far a subscriber may fall behind before its
// session is torn down.
const subscriberBuffer = 64

// ErrSlowSubscriber is reported by Subscription.Err after a session was torn
// down because its outbound queue overflowed.
var ErrSlowSubscriber = errors.New("book: subscriber queue overflow")

// Publisher fans out merged summaries to subscribers, delivering a value only
// when it structurally differs from the last one the subscriber saw. Each
// subscription runs its own goroutine woken by the Store's watch channel;
// subscribers never coordinate with each other or with ingestion.
type Publisher struct {
	store *Store
}

// NewPublisher creates a Publisher reading from the given Store.
func NewPublisher(store *Store) *Publisher {
	return &Publisher{store: store}
}

// Subscription is one consumer's handle on the summary stream.
type Subscription struct {
	ch     chan Summary
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Updates returns the ordered stream of summaries. No two consecutive values
// are structurally identical. The channel is closed on Close, context
// cancellation, or teardown after overflow.
func (s *Subscription) Updates() <-chan Summary {
	return s.ch
}

// Close cancels the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
}

// Err reports why the stream ended: ErrSlowSubscriber after an overflow
// teardown, nil after a plain Close or context cancellation.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Subscribe opens a new subscription. Its goroutine exits when ctx is
// cancelled, Close is called, or the subscriber stops draining its queue.
func (p *Publisher) Subscribe(ctx context.Context) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ch:     make(chan Summary, subscriberBuffer),
		cancel: cancel,
	}
	go p.run(ctx, sub)
	return sub
}

func (p *Publisher) run(ctx context.Context, sub *Subscription) {
	defer close(sub.ch)

	// The comparison cursor starts at the zero Summary, so a write that
	// leaves the view empty delivers nothing.
	var last Summary
	var lastVersion uint64

	for {
		// Grab the watch channel before reading so a write landing between
		// the two calls still wakes us.
		changed := p.store.Changed()
		cur, version := p.store.Snapshot()

		if version != lastVersion {
			lastVersion = version
			// Writes without net change (or changes that cancelled out
			// between wakeups) are coalesced away here.
			if !cur.Equal(last) {
				select {
				case sub.ch <- cur:
					last = cur
				default:
					log.Printf("publisher: subscriber queue full, closing session")
					sub.fail(ErrSlowSubscriber)
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}
