//go:build linux

package relay

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Default BCM pin assignments for the 8-channel relay board and the
// thermal-cutout input line.
var DefaultRelayPins = []int{4, 17, 18, 27, 22, 23, 24, 25}

const DefaultSafetyPin = 5

// hardwareDebounce filters electrical noise at the kernel level; logical
// coalescing of the latch happens in Bank.HandleInterrupt.
const hardwareDebounce = 10 * time.Millisecond

// GPIOOutput drives the relay board through the Linux GPIO character device.
// The board is active-low: raw 0 energizes a relay, raw 1 releases it.
type GPIOOutput struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewGPIOOutput requests the given pins as outputs with every relay
// released.
func NewGPIOOutput(chipName string, pins []int) (*GPIOOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	o := &GPIOOutput{chip: chip}
	for i, pin := range pins {
		// Initial value 1 = relay off (active low).
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("incubatord-relay"))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("request relay pin %d (channel %d): %w", pin, i, err)
		}
		o.lines = append(o.lines, line)
	}
	return o, nil
}

// Set energizes or releases a channel.
func (o *GPIOOutput) Set(channel int, on bool) error {
	if channel < 0 || channel >= len(o.lines) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	// Active low: 0 = ON, 1 = OFF.
	v := 1
	if on {
		v = 0
	}
	if err := o.lines[channel].SetValue(v); err != nil {
		return fmt.Errorf("set relay channel %d: %w", channel, err)
	}
	return nil
}

// Close releases every relay, then the GPIO resources.
func (o *GPIOOutput) Close() error {
	var first error
	for ch, line := range o.lines {
		if line == nil {
			continue
		}
		if err := line.SetValue(1); err != nil && first == nil {
			first = fmt.Errorf("release relay channel %d: %w", ch, err)
		}
		if err := line.Close(); err != nil && first == nil {
			first = fmt.Errorf("close relay channel %d: %w", ch, err)
		}
	}
	o.lines = nil
	if o.chip != nil {
		if err := o.chip.Close(); err != nil && first == nil {
			first = fmt.Errorf("close chip: %w", err)
		}
		o.chip = nil
	}
	return first
}

// SafetyInput watches the normally-closed thermal-cutout line and feeds
// edges into a Bank. The line is pulled up, so an open circuit reads high:
// rising edge = overheat, falling edge = back to normal.
type SafetyInput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewSafetyInput requests the interrupt line and wires both edges into
// bank.HandleInterrupt. If the circuit is already open at arm time the latch
// is triggered immediately.
func NewSafetyInput(chipName string, pin int, bank *Bank) (*SafetyInput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(hardwareDebounce),
		gpiocdev.WithConsumer("incubatord-safety"),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			open := evt.Type == gpiocdev.LineEventRisingEdge
			bank.HandleInterrupt(open, time.Now())
		}))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request safety pin %d: %w", pin, err)
	}

	// The cutout may already be tripped at startup.
	v, err := line.Value()
	if err != nil {
		line.Close()
		chip.Close()
		return nil, fmt.Errorf("read safety pin %d: %w", pin, err)
	}
	if v != 0 {
		bank.HandleInterrupt(true, time.Now())
	}

	return &SafetyInput{chip: chip, line: line}, nil
}

// Close releases the interrupt line.
func (s *SafetyInput) Close() error {
	var first error
	if s.line != nil {
		first = s.line.Close()
		s.line = nil
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil && first == nil {
			first = err
		}
		s.chip = nil
	}
	return first
}
