// Package sensor provides temperature/humidity acquisition for the incubator.
// A Driver performs one hardware transaction; the Proxy on top of it tracks
// reading freshness so regulators can tell a single dropped sample from a
// sensor that has been dead for a while.
package sensor

import (
	"context"
	"time"
)

// Reading is a single successful measurement. Immutable once produced.
type Reading struct {
	TempC    float64
	TempF    float64
	Humidity float64
	Time     time.Time
}

// Driver is the hardware boundary: one blocking read per call.
// The context carries the caller's timeout budget.
type Driver interface {
	// Read performs one measurement transaction.
	Read(ctx context.Context) (Reading, error)

	// Reconnect reinitializes the underlying transport.
	// Idempotent if the transport is already up.
	Reconnect() error

	// Close releases hardware resources.
	Close() error
}
