package book

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fathom-terminal/fathom/internal/adapter"
)

// ConnectionHealth reports whether an exchange's feed connection is up.
// Satisfied by *adapter.WSClient.
type ConnectionHealth interface {
	Circuit() adapter.CircuitState
}

// MonitorConfig holds tunable parameters for the Monitor.
type MonitorConfig struct {
	// StaleThreshold is the maximum silence from a venue before its levels
	// are cleared from the merged view.
	StaleThreshold time.Duration

	// DisconnectGrace is the shorter silence allowed while the venue's
	// connection circuit is open (reconnecting).
	DisconnectGrace time.Duration

	// PollInterval is how frequently feeds are checked.
	PollInterval time.Duration
}

// DefaultMonitorConfig returns production-tuned defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StaleThreshold:  10 * time.Second,
		DisconnectGrace: 3 * time.Second,
		PollInterval:    time.Second,
	}
}

// feedState tracks freshness for a single exchange feed.
type feedState struct {
	conn       ConnectionHealth
	lastUpdate time.Time
	cleared    bool
}

// Monitor watches per-exchange feed freshness and clears silent venues out
// of the merged view, so a dead exchange degrades only its own levels
// instead of serving stale prices indefinitely. The venue re-enters the view
// as soon as a fresh snapshot arrives.
type Monitor struct {
	cfg   MonitorConfig
	store *Store

	mu    sync.Mutex
	feeds map[adapter.Exchange]*feedState

	nowFunc func() time.Time // injectable clock for testing
}

// NewMonitor creates a Monitor clearing stale venues from the given Store.
func NewMonitor(cfg MonitorConfig, store *Store) *Monitor {
	return &Monitor{
		cfg:     cfg,
		store:   store,
		feeds:   make(map[adapter.Exchange]*feedState),
		nowFunc: time.Now,
	}
}

// Watch registers an exchange feed. conn may be nil when connection health
// is not observable; staleness is then judged on silence alone.
func (m *Monitor) Watch(ex adapter.Exchange, conn ConnectionHealth) {
	m.mu.Lock()
	m.feeds[ex] = &feedState{conn: conn, lastUpdate: m.nowFunc()}
	m.mu.Unlock()
}

// Observe records a fresh snapshot from the exchange. Called by the
// ingestion loop after every successful Store.Apply.
func (m *Monitor) Observe(ex adapter.Exchange) {
	now := m.nowFunc()
	m.mu.Lock()
	st, ok := m.feeds[ex]
	if !ok {
		st = &feedState{}
		m.feeds[ex] = st
	}
	st.lastUpdate = now
	st.cleared = false
	m.mu.Unlock()
}

// Run sweeps feed freshness on PollInterval. It blocks until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep clears venues whose feed has been silent past StaleThreshold, or
// past DisconnectGrace while the connection is down. Store access happens
// outside the monitor's own lock.
func (m *Monitor) sweep() {
	now := m.nowFunc()
	var stale []adapter.Exchange

	m.mu.Lock()
	for ex, st := range m.feeds {
		if st.cleared {
			continue
		}
		silence := now.Sub(st.lastUpdate)
		down := st.conn != nil && st.conn.Circuit() == adapter.CircuitOpen
		if silence > m.cfg.StaleThreshold || (down && silence > m.cfg.DisconnectGrace) {
			st.cleared = true
			stale = append(stale, ex)
		}
	}
	m.mu.Unlock()

	for _, ex := range stale {
		log.Printf("monitor: clearing stale levels for %s", ex)
		m.store.Clear(ex)
	}
}
