//go:build !linux

package i2c

import "errors"

var errUnsupported = errors.New("i2c: not supported on this platform (requires Linux)")

// Bus is not available on non-Linux platforms.
type Bus struct{}

// Dev is not available on non-Linux platforms.
type Dev struct{}

// Open returns an error on non-Linux platforms.
func Open(path string) (*Bus, error) { return nil, errUnsupported }

// Close is a no-op on non-Linux platforms.
func (b *Bus) Close() error { return nil }

// Dev returns a placeholder device handle.
func (b *Bus) Dev(addr uint16) *Dev { return &Dev{} }

// Write is not implemented on non-Linux platforms.
func (d *Dev) Write(p []byte) error { return errUnsupported }

// Read is not implemented on non-Linux platforms.
func (d *Dev) Read(p []byte) error { return errUnsupported }

// WriteRead is not implemented on non-Linux platforms.
func (d *Dev) WriteRead(w, r []byte) error { return errUnsupported }
