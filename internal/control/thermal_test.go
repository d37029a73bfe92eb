package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crandall/incubator/internal/relay"
	"github.com/crandall/incubator/internal/sensor"
)

// blockingDriver parks every Read until released, modeling a hung bus
// transfer that outlives the per-read timeout.
type blockingDriver struct {
	release chan struct{}
	reading sensor.Reading
}

func (d *blockingDriver) Read(ctx context.Context) (sensor.Reading, error) {
	<-d.release
	return d.reading, nil
}

func (d *blockingDriver) Reconnect() error { return nil }
func (d *blockingDriver) Close() error     { return nil }

func newTestThermal(t *testing.T, samples []sensor.FakeSample) (*Thermal, *relay.Bank, *relay.FakeOutput) {
	t.Helper()
	out := relay.NewFakeOutput()
	bank := relay.NewBank(out)
	proxy := sensor.NewProxy(sensor.NewFakeDriver(samples), time.Second)
	th, err := NewThermal(proxy, bank, DefaultThermalConfig(), nil)
	if err != nil {
		t.Fatalf("NewThermal: %v", err)
	}
	return th, bank, out
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func hasEvent(events []Event, typ EventType) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestThermalRegulationCycle(t *testing.T) {
	// Defaults: target 99.8, min 99.6, max 100.2, cutoff 100.3.
	th, bank, _ := newTestThermal(t, sensor.TempSamples(99.0, 99.7, 100.0, 100.35, 99.9))
	now := time.Now()

	// Well below the band: both heaters.
	events := th.step(now)
	if got := th.Status().State; got != StateHeating12 {
		t.Fatalf("state after 99.0°F = %v, want %v", got, StateHeating12)
	}
	if !bank.State(relay.ChannelHeater1) || !bank.State(relay.ChannelHeater2) {
		t.Error("both heaters should be on at 99.0°F")
	}
	if !hasEvent(events, EventHeater1On) || !hasEvent(events, EventHeater2On) {
		t.Errorf("events after 99.0°F = %v, want both heater-on events", eventTypes(events))
	}

	// Inside the band below target: primary heater only.
	now = now.Add(5 * time.Second)
	events = th.step(now)
	if got := th.Status().State; got != StateHeating1 {
		t.Fatalf("state after 99.7°F = %v, want %v", got, StateHeating1)
	}
	if !bank.State(relay.ChannelHeater1) || bank.State(relay.ChannelHeater2) {
		t.Error("only heater 1 should be on at 99.7°F")
	}
	if !hasEvent(events, EventHeater2Off) {
		t.Errorf("events after 99.7°F = %v, want heater 2 off", eventTypes(events))
	}

	// Above target but inside the band: holding.
	now = now.Add(5 * time.Second)
	th.step(now)
	if got := th.Status().State; got != StateHolding {
		t.Fatalf("state after 100.0°F = %v, want %v", got, StateHolding)
	}
	if bank.State(relay.ChannelHeater1) || bank.State(relay.ChannelHeater2) {
		t.Error("both heaters should be off at 100.0°F")
	}

	// At the cutoff: hard safety trip.
	now = now.Add(5 * time.Second)
	events = th.step(now)
	if got := th.Status().State; got != StateSafetyCutoff {
		t.Fatalf("state after 100.35°F = %v, want %v", got, StateSafetyCutoff)
	}
	if !hasEvent(events, EventSafetyCutoff) {
		t.Errorf("events after 100.35°F = %v, want safety cutoff", eventTypes(events))
	}
	if !th.Status().SafetyTriggered {
		t.Error("SafetyTriggered should be set")
	}

	// Below the recovery threshold (cutoff - 0.3 = 100.0): back to normal.
	now = now.Add(5 * time.Second)
	events = th.step(now)
	if !hasEvent(events, EventSafetyCleared) {
		t.Errorf("events after 99.9°F = %v, want safety cleared", eventTypes(events))
	}
	if th.Status().SafetyTriggered {
		t.Error("SafetyTriggered should be cleared at 99.9°F")
	}
	if got := th.Status().State; got != StateHolding {
		t.Errorf("state after recovery at 99.9°F = %v, want %v", got, StateHolding)
	}
}

func TestThermalSafetyCutoffHysteresis(t *testing.T) {
	// Exactly at the cutoff trips; 100.1 is below the limit but above the
	// recovery threshold, so cutoff holds until a reading under 100.0.
	th, bank, _ := newTestThermal(t, sensor.TempSamples(100.3, 100.1, 100.2, 99.95))
	now := time.Now()

	events := th.step(now)
	if !hasEvent(events, EventSafetyCutoff) {
		t.Fatal("reading exactly at the cutoff should trip")
	}

	for _, temp := range []float64{100.1, 100.2} {
		now = now.Add(5 * time.Second)
		events = th.step(now)
		if hasEvent(events, EventSafetyCleared) {
			t.Errorf("cutoff cleared at %.2f°F, recovery threshold is 100.0", temp)
		}
		if got := th.Status().State; got != StateSafetyCutoff {
			t.Errorf("state at %.2f°F = %v, want %v", temp, got, StateSafetyCutoff)
		}
		if bank.State(relay.ChannelHeater1) || bank.State(relay.ChannelHeater2) {
			t.Errorf("heaters energized during cutoff at %.2f°F", temp)
		}
	}

	now = now.Add(5 * time.Second)
	events = th.step(now)
	if !hasEvent(events, EventSafetyCleared) {
		t.Error("cutoff should clear below the recovery threshold")
	}
	// 99.95 is above target, so recovery lands in holding.
	if got := th.Status().State; got != StateHolding {
		t.Errorf("state after recovery = %v, want %v", got, StateHolding)
	}
}

func TestThermalSensorFailureEscalation(t *testing.T) {
	readErr := errors.New("i2c: remote I/O error")
	th, bank, _ := newTestThermal(t, []sensor.FakeSample{
		{TempF: 99.0},
		{Err: readErr},
		{Err: readErr},
		{TempF: 99.0},
	})
	now := time.Now()

	th.step(now)
	if !bank.State(relay.ChannelHeater1) {
		t.Fatal("heater 1 should be on after the good reading")
	}

	// One dropped sample inside the staleness window is absorbed: outputs
	// hold and no failure is reported.
	now = now.Add(5 * time.Second)
	events := th.step(now)
	if len(events) != 0 {
		t.Errorf("absorbed sample produced events %v", eventTypes(events))
	}
	if !bank.State(relay.ChannelHeater1) || !bank.State(relay.ChannelHeater2) {
		t.Error("heaters should hold state through a single dropped sample")
	}
	st := th.Status()
	if st.SensorFailure {
		t.Error("SensorFailure should not be set inside the staleness window")
	}
	if st.CurrentTemp != nil {
		t.Error("CurrentTemp should be nil after a failed read")
	}

	// Past the staleness window the failure escalates and forces off.
	now = now.Add(31 * time.Second)
	events = th.step(now)
	if !hasEvent(events, EventSensorFailure) {
		t.Errorf("events past the window = %v, want sensor failure", eventTypes(events))
	}
	if got := th.Status().State; got != StateSensorFailure {
		t.Errorf("state = %v, want %v", got, StateSensorFailure)
	}
	if bank.State(relay.ChannelHeater1) || bank.State(relay.ChannelHeater2) {
		t.Error("heaters must be off in sensor failure")
	}

	// A good reading restores control immediately.
	now = now.Add(5 * time.Second)
	events = th.step(now)
	if !hasEvent(events, EventSensorRestored) {
		t.Errorf("events after restore = %v, want sensor restored", eventTypes(events))
	}
	if got := th.Status().State; got != StateHeating12 {
		t.Errorf("state after restore at 99.0°F = %v, want %v", got, StateHeating12)
	}
}

func TestThermalOverheatLock(t *testing.T) {
	th, bank, out := newTestThermal(t, sensor.TempSamples(99.0))
	now := time.Now()

	th.step(now)
	if !bank.State(relay.ChannelHeater1) {
		t.Fatal("heater 1 should be on before the interrupt")
	}

	// Interrupt fires between ticks and forces the heaters off itself.
	bank.HandleInterrupt(true, now.Add(time.Second))
	if out.States[relay.ChannelHeater1] || out.States[relay.ChannelHeater2] {
		t.Fatal("interrupt should force heaters off before the next tick")
	}

	now = now.Add(5 * time.Second)
	events := th.step(now)
	if !hasEvent(events, EventOverheatLock) {
		t.Errorf("events = %v, want overheat lock", eventTypes(events))
	}
	if got := th.Status().State; got != StateOverheatLock {
		t.Errorf("state = %v, want %v", got, StateOverheatLock)
	}

	// Ticks while locked stay suppressed even with a heat-demanding reading.
	now = now.Add(5 * time.Second)
	events = th.step(now)
	if len(events) != 0 {
		t.Errorf("locked tick produced events %v", eventTypes(events))
	}
	if bank.State(relay.ChannelHeater1) || bank.State(relay.ChannelHeater2) {
		t.Error("heaters must stay off while locked")
	}

	// Latch clears on hardware normal; control resumes next tick.
	bank.HandleInterrupt(false, now.Add(time.Second))
	now = now.Add(5 * time.Second)
	events = th.step(now)
	if !hasEvent(events, EventOverheatClear) {
		t.Errorf("events = %v, want overheat cleared", eventTypes(events))
	}
	if !bank.State(relay.ChannelHeater1) || !bank.State(relay.ChannelHeater2) {
		t.Error("control should resume with both heaters at 99.0°F")
	}
}

func TestThermalStartStop(t *testing.T) {
	th, bank, _ := newTestThermal(t, sensor.TempSamples(99.0))

	if err := th.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop before Start = %v, want ErrNotRunning", err)
	}

	if err := th.Start(time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := th.Start(time.Hour); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	// The first tick runs immediately.
	deadline := time.Now().Add(2 * time.Second)
	for !bank.State(relay.ChannelHeater1) {
		if time.Now().After(deadline) {
			t.Fatal("heater 1 never energized after Start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := th.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if bank.State(relay.ChannelHeater1) || bank.State(relay.ChannelHeater2) {
		t.Error("heaters must be off after Stop")
	}
	st := th.Status()
	if st.Running || st.State != StateIdle {
		t.Errorf("after Stop: running=%v state=%v", st.Running, st.State)
	}
}

func TestThermalStopForcesOffWithStuckWorker(t *testing.T) {
	old := StopTimeout
	StopTimeout = 50 * time.Millisecond
	defer func() { StopTimeout = old }()

	th, bank, out := newTestThermal(t, sensor.TempSamples(99.0))
	th.step(time.Now())
	if !bank.State(relay.ChannelHeater1) {
		t.Fatal("heater 1 should be on")
	}

	// Fabricate a live worker that never acknowledges the stop signal.
	th.mu.Lock()
	th.running = true
	th.stopCh = make(chan struct{})
	th.doneCh = make(chan struct{})
	th.mu.Unlock()

	if err := th.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if out.States[relay.ChannelHeater1] || out.States[relay.ChannelHeater2] {
		t.Error("Stop must force heaters off even when the worker hangs")
	}
	if th.Status().Heater1On {
		t.Error("tracked heater state should be off after Stop")
	}
}

func TestThermalAbandonedTickCannotReenergizeAfterStop(t *testing.T) {
	old := StopTimeout
	StopTimeout = 20 * time.Millisecond
	defer func() { StopTimeout = old }()

	drv := &blockingDriver{release: make(chan struct{}), reading: sensor.Reading{TempF: 99.0}}
	proxy := sensor.NewProxy(drv, time.Second)
	out := relay.NewFakeOutput()
	bank := relay.NewBank(out)
	th, err := NewThermal(proxy, bank, DefaultThermalConfig(), nil)
	if err != nil {
		t.Fatalf("NewThermal: %v", err)
	}

	if err := th.Start(time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The first tick is now parked inside the sensor read, so Stop times
	// out, forces the heaters off, and abandons the worker.
	if err := th.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Release the hung read. The abandoned tick completes with 99.0°F,
	// well below min, and must not act on that stale decision.
	close(drv.release)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		states := out.StatesSnapshot()
		if states[relay.ChannelHeater1] || states[relay.ChannelHeater2] {
			t.Fatal("abandoned tick re-energized a heater after Stop returned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := th.Status(); st.Heater1On || st.Heater2On {
		t.Error("tracked heater state flipped on after Stop")
	}
}

func TestThermalUpdateConfig(t *testing.T) {
	th, _, _ := newTestThermal(t, sensor.TempSamples(99.0))
	orig := th.Config()

	bad := orig
	bad.SafetyCutoff = orig.Max // cutoff must exceed max
	if err := th.UpdateConfig(bad); err == nil {
		t.Error("invalid config should be rejected")
	}
	if got := th.Config(); got != orig {
		t.Errorf("rejected update changed config to %+v", got)
	}

	good := orig
	good.Target = 100.0
	good.Max = 100.4
	good.SafetyCutoff = 100.7
	if err := th.UpdateConfig(good); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if got := th.Config(); got != good {
		t.Errorf("Config after update = %+v, want %+v", got, good)
	}
}

func TestThermalConfigChangeTakesEffectNextTick(t *testing.T) {
	// At 99.0°F the default band heats; raising the band floor above the
	// reading keeps heating, lowering the band below it stops.
	th, bank, _ := newTestThermal(t, sensor.TempSamples(99.0, 99.0))
	now := time.Now()

	th.step(now)
	if !bank.State(relay.ChannelHeater1) {
		t.Fatal("heater 1 should be on at 99.0°F")
	}

	cfg := ThermalConfig{Target: 98.0, Min: 97.8, Max: 98.4, SafetyCutoff: 98.7, SensorTimeout: 30 * time.Second}
	if err := th.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	now = now.Add(5 * time.Second)
	th.step(now)
	if bank.State(relay.ChannelHeater1) || bank.State(relay.ChannelHeater2) {
		t.Error("heaters should turn off once the band moves below the reading")
	}
	if got := th.Status().State; got != StateHolding {
		t.Errorf("state = %v, want %v", got, StateHolding)
	}
}

func TestThermalStatusSnapshot(t *testing.T) {
	th, _, _ := newTestThermal(t, []sensor.FakeSample{{TempF: 99.7, Humidity: 58.2}})
	now := time.Now()
	th.step(now)

	st := th.Status()
	if st.CurrentTemp == nil || *st.CurrentTemp != 99.7 {
		t.Errorf("CurrentTemp = %v, want 99.7", st.CurrentTemp)
	}
	if st.CurrentHumidity == nil || *st.CurrentHumidity != 58.2 {
		t.Errorf("CurrentHumidity = %v, want 58.2", st.CurrentHumidity)
	}
	if !st.LastReadingTime.Equal(now) {
		t.Errorf("LastReadingTime = %v, want %v", st.LastReadingTime, now)
	}
	if !st.Heater1On || st.Heater2On {
		t.Errorf("heater flags = %v/%v, want on/off at 99.7°F", st.Heater1On, st.Heater2On)
	}
}

func TestThermalNewRejectsInvalidConfig(t *testing.T) {
	out := relay.NewFakeOutput()
	bank := relay.NewBank(out)
	proxy := sensor.NewProxy(sensor.NewFakeDriver(sensor.TempSamples(99.0)), time.Second)

	cfg := DefaultThermalConfig()
	cfg.SensorTimeout = 0
	if _, err := NewThermal(proxy, bank, cfg, nil); err == nil {
		t.Error("NewThermal should reject an invalid config")
	}
}
