// Package relay controls the 8-channel relay board that drives the
// incubator's heaters and humidifier, and owns the overheat safety latch.
//
// Channels 0 and 1 (the heaters) are protected: while the safety latch is
// triggered the bank refuses to energize them, regardless of caller. The
// latch is flipped by the hardware interrupt line; the interrupt path forces
// the protected channels off itself and only publishes the flag for the
// regulation loop to observe on its next tick.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Channel assignments on the relay board.
const (
	ChannelHeater1    = 0
	ChannelHeater2    = 1
	ChannelHumidifier = 2

	NumChannels = 8
)

// DefaultDebounce is the window within which safety-line edges are
// coalesced. Contact bounce on the thermal cutout is far shorter than this.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrSafetyBlocked is returned by TurnOn for a protected channel while
	// the safety latch is triggered. No hardware write is attempted.
	ErrSafetyBlocked = errors.New("relay: blocked by safety latch")

	// ErrInvalidChannel is returned for channel numbers outside the board.
	ErrInvalidChannel = errors.New("relay: invalid channel")
)

var channelNames = [NumChannels]string{
	"Heater 1", "Heater 2", "Humidifier",
	"Relay 4", "Relay 5", "Relay 6", "Relay 7", "Relay 8",
}

// ChannelName returns the human-readable name of a channel.
func ChannelName(n int) string {
	if n < 0 || n >= NumChannels {
		return fmt.Sprintf("Relay %d", n)
	}
	return channelNames[n]
}

// Output drives the physical relay channels.
// The real implementation uses the Linux GPIO character device.
type Output interface {
	// Set energizes (on=true) or de-energizes a channel.
	Set(channel int, on bool) error

	// Close releases hardware resources, leaving all channels off.
	Close() error
}

// Bank tracks relay state and enforces the safety latch.
type Bank struct {
	out      Output
	debounce time.Duration

	mu       sync.Mutex
	states   [NumChannels]bool
	latched  bool
	lastEdge time.Time
	callback func(triggered bool)
}

// NewBank creates a Bank over the given output driver.
func NewBank(out Output) *Bank {
	return &Bank{out: out, debounce: DefaultDebounce}
}

// TurnOn energizes a channel. Protected channels fail fast with
// ErrSafetyBlocked while the latch is triggered.
func (b *Bank) TurnOn(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latched && protected(channel) {
		return fmt.Errorf("%w: %s", ErrSafetyBlocked, ChannelName(channel))
	}
	if err := b.out.Set(channel, true); err != nil {
		return fmt.Errorf("turn on %s: %w", ChannelName(channel), err)
	}
	b.states[channel] = true
	return nil
}

// TurnOff de-energizes a channel. Always allowed.
func (b *Bank) TurnOff(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.out.Set(channel, false); err != nil {
		return fmt.Errorf("turn off %s: %w", ChannelName(channel), err)
	}
	b.states[channel] = false
	return nil
}

// Toggle flips a channel.
func (b *Bank) Toggle(channel int) error {
	if b.State(channel) {
		return b.TurnOff(channel)
	}
	return b.TurnOn(channel)
}

// AllOff de-energizes every channel, returning the first error encountered
// while still attempting the rest.
func (b *Bank) AllOff() error {
	var first error
	for ch := 0; ch < NumChannels; ch++ {
		if err := b.TurnOff(ch); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// State reports whether a channel is currently energized.
func (b *Bank) State(channel int) bool {
	if channel < 0 || channel >= NumChannels {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[channel]
}

// States returns a copy of all channel states.
func (b *Bank) States() [NumChannels]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states
}

// SafetyLatched reports whether the overheat latch is currently triggered.
func (b *Bank) SafetyLatched() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latched
}

// ArmSafety registers a callback invoked on each latch transition with the
// new latch state.
func (b *Bank) ArmSafety(cb func(triggered bool)) {
	b.mu.Lock()
	b.callback = cb
	b.mu.Unlock()
}

// HandleInterrupt processes one edge of the normally-closed safety line.
// open=true means the circuit opened (overheat). An opening edge applies
// immediately: the latch is set and both protected channels are forced off
// before we return. A closing edge within the debounce window of the last
// transition is treated as contact bounce and ignored.
//
// Called from the GPIO event goroutine; at is the edge timestamp.
func (b *Bank) HandleInterrupt(open bool, at time.Time) {
	b.mu.Lock()

	var cb func(bool)
	var fired, state bool

	switch {
	case open && !b.latched:
		b.latched = true
		b.lastEdge = at
		b.forceProtectedOffLocked()
		cb, fired, state = b.callback, true, true
	case !open && b.latched:
		if at.Sub(b.lastEdge) < b.debounce {
			// Bounce: the line has not been stable since the trip.
			break
		}
		b.latched = false
		b.lastEdge = at
		cb, fired, state = b.callback, true, false
	}
	b.mu.Unlock()

	if !fired {
		return
	}
	if state {
		log.Warn("safety latch triggered, heaters forced off")
	} else {
		log.Info("safety latch cleared")
	}
	if cb != nil {
		cb(state)
	}
}

// forceProtectedOffLocked drives both heater channels off. Errors are logged
// but do not stop the other channel from being forced.
func (b *Bank) forceProtectedOffLocked() {
	for _, ch := range []int{ChannelHeater1, ChannelHeater2} {
		if err := b.out.Set(ch, false); err != nil {
			log.WithError(err).Errorf("force off %s", ChannelName(ch))
			continue
		}
		b.states[ch] = false
	}
}

func protected(channel int) bool {
	return channel == ChannelHeater1 || channel == ChannelHeater2
}
