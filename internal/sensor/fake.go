package sensor

import (
	"context"
	"errors"
	"sync"
)

// FakeSample is one scripted driver result. If Err is set, the sample is a
// failed read and the measurement fields are ignored.
type FakeSample struct {
	TempF    float64
	Humidity float64
	Err      error
}

// FakeDriver is a test double that returns scripted readings. Methods are
// safe for concurrent use; reassign the exported fields only while no
// reader goroutine is live.
type FakeDriver struct {
	mu sync.Mutex

	// Samples contains the scripted results. Each Read consumes the next
	// sample; when exhausted, the last sample repeats.
	Samples []FakeSample

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReconnectError, if set, will be returned by Reconnect.
	ReconnectError error

	// Reconnects counts Reconnect calls.
	Reconnects int
}

// NewFakeDriver creates a FakeDriver with the given samples.
func NewFakeDriver(samples []FakeSample) *FakeDriver {
	return &FakeDriver{Samples: samples}
}

// TempSamples builds a script of successful temperature-only samples.
func TempSamples(tempsF ...float64) []FakeSample {
	out := make([]FakeSample, len(tempsF))
	for i, t := range tempsF {
		out[i] = FakeSample{TempF: t}
	}
	return out
}

// HumiditySamples builds a script of successful humidity-only samples.
func HumiditySamples(humidities ...float64) []FakeSample {
	out := make([]FakeSample, len(humidities))
	for i, h := range humidities {
		out[i] = FakeSample{Humidity: h}
	}
	return out
}

// Read returns the next scripted sample.
func (f *FakeDriver) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	f.mu.Lock()
	if len(f.Samples) == 0 {
		f.mu.Unlock()
		return Reading{}, errors.New("no samples configured")
	}
	s := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	f.mu.Unlock()

	if s.Err != nil {
		return Reading{}, s.Err
	}
	return Reading{
		TempF:    s.TempF,
		TempC:    (s.TempF - 32.0) * 5.0 / 9.0,
		Humidity: s.Humidity,
	}, nil
}

// Reconnect counts the call and returns ReconnectError if set.
func (f *FakeDriver) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reconnects++
	return f.ReconnectError
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset rewinds the script.
func (f *FakeDriver) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.Closed = false
}
