package relay

import "sync"

// Write records a single hardware write issued to the fake output.
type Write struct {
	Channel int
	On      bool
}

// FakeOutput is a test double that records relay writes. Methods are safe
// for concurrent use; read the exported fields directly only after all
// writer goroutines have been joined, otherwise use StatesSnapshot.
type FakeOutput struct {
	mu sync.Mutex

	// States mirrors the last write per channel.
	States [NumChannels]bool

	// Writes contains every write in order.
	Writes []Write

	// SetError, if set, will be returned by Set.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutput creates a FakeOutput with all channels off.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the write.
func (f *FakeOutput) Set(channel int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.States[channel] = on
	f.Writes = append(f.Writes, Write{Channel: channel, On: on})
	return nil
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// StatesSnapshot returns a copy of the channel states, safe to call while
// regulator goroutines are writing.
func (f *FakeOutput) StatesSnapshot() [NumChannels]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.States
}

// Reset clears recorded writes and states.
func (f *FakeOutput) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States = [NumChannels]bool{}
	f.Writes = nil
	f.SetError = nil
	f.Closed = false
}
