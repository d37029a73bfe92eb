//go:build !linux

package relay

import "errors"

var errUnsupported = errors.New("relay: gpio not supported on this platform (requires Linux)")

// Default BCM pin assignments, mirrored here so flags parse on any platform.
var DefaultRelayPins = []int{4, 17, 18, 27, 22, 23, 24, 25}

const DefaultSafetyPin = 5

// GPIOOutput is not available on non-Linux platforms.
type GPIOOutput struct{}

// NewGPIOOutput returns an error on non-Linux platforms.
func NewGPIOOutput(chipName string, pins []int) (*GPIOOutput, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *GPIOOutput) Set(channel int, on bool) error { return errUnsupported }

// Close is a no-op on non-Linux platforms.
func (o *GPIOOutput) Close() error { return nil }

// SafetyInput is not available on non-Linux platforms.
type SafetyInput struct{}

// NewSafetyInput returns an error on non-Linux platforms.
func NewSafetyInput(chipName string, pin int, bank *Bank) (*SafetyInput, error) {
	return nil, errUnsupported
}

// Close is a no-op on non-Linux platforms.
func (s *SafetyInput) Close() error { return nil }
