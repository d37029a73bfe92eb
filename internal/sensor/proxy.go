package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Proxy wraps a Driver and tracks reading freshness. Staleness is a pure
// function of the time since the last successful read, so it stays
// queryable while Read itself is failing.
//
// Time is injected by the caller: regulators pass their tick time so tests
// can drive the clock. A Proxy is safe for use from multiple goroutines:
// both regulators share one Proxy, and busMu keeps their SHT30
// write/delay/fetch transactions from interleaving on the bus.
type Proxy struct {
	drv     Driver
	timeout time.Duration // per-read budget

	// busMu serializes driver transactions. Freshness state uses its own
	// lock so Active stays responsive while a read is in flight.
	busMu sync.Mutex

	mu          sync.Mutex
	connected   bool
	lastSuccess time.Time
	hasSuccess  bool
}

// NewProxy wraps drv with the given per-read timeout budget.
func NewProxy(drv Driver, readTimeout time.Duration) *Proxy {
	return &Proxy{drv: drv, timeout: readTimeout, connected: true}
}

// Read attempts one hardware transaction. On success the freshness clock is
// reset and the reading is stamped with now. On failure the last-success
// time is left unchanged.
func (p *Proxy) Read(now time.Time) (Reading, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	p.busMu.Lock()
	r, err := p.drv.Read(ctx)
	p.busMu.Unlock()
	if err != nil {
		return Reading{}, fmt.Errorf("sensor read: %w", err)
	}

	r.Time = now
	p.mu.Lock()
	p.lastSuccess = now
	p.hasSuccess = true
	p.mu.Unlock()
	return r, nil
}

// Active reports whether the sensor is connected and produced a successful
// reading within staleAfter of now. Before any success it reports false.
func (p *Proxy) Active(now time.Time, staleAfter time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected || !p.hasSuccess {
		return false
	}
	return now.Sub(p.lastSuccess) < staleAfter
}

// LastSuccess returns the time of the most recent successful read.
// ok is false if no read has succeeded yet.
func (p *Proxy) LastSuccess() (t time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSuccess, p.hasSuccess
}

// Reconnect attempts to reinitialize the underlying transport. It waits
// for any in-flight read to finish so the driver is never rewired under a
// live transaction.
func (p *Proxy) Reconnect() error {
	p.busMu.Lock()
	err := p.drv.Reconnect()
	p.busMu.Unlock()

	p.mu.Lock()
	p.connected = err == nil
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sensor reconnect: %w", err)
	}
	return nil
}

// Close releases the driver.
func (p *Proxy) Close() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	p.busMu.Lock()
	defer p.busMu.Unlock()
	return p.drv.Close()
}
