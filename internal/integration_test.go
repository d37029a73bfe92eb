package internal

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/crandall/incubator/internal/control"
	"github.com/crandall/incubator/internal/mqtt"
	"github.com/crandall/incubator/internal/relay"
	"github.com/crandall/incubator/internal/sensor"
	"github.com/crandall/incubator/internal/settings"
	"github.com/crandall/incubator/internal/supervisor"
)

// buildStack wires fakes end to end the way the daemon wires hardware:
// scripted sensor -> proxy -> regulators -> relay bank, events -> MQTT.
func buildStack(t *testing.T, samples []sensor.FakeSample) (*supervisor.Supervisor, *relay.FakeOutput, *mqtt.FakePublisher) {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	out := relay.NewFakeOutput()
	bank := relay.NewBank(out)
	proxy := sensor.NewProxy(sensor.NewFakeDriver(samples), time.Second)
	pub := mqtt.NewFakePublisher()

	sup, err := supervisor.New(store, proxy, bank, pub)
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	t.Cleanup(sup.StopAll)
	return sup, out, pub
}

func await(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestIntegrationEventFlow drives a cold enclosure through the full stack
// and checks the published MQTT payloads, not just internal state.
func TestIntegrationEventFlow(t *testing.T) {
	sup, _, pub := buildStack(t, []sensor.FakeSample{
		{TempF: 99.0, Humidity: 45}, // consumed by the init probe
		{TempF: 99.0, Humidity: 45},
	})

	if err := sup.Start(supervisor.SystemTemperature); err != nil {
		t.Fatalf("start temperature: %v", err)
	}
	if err := sup.Start(supervisor.SystemHumidity); err != nil {
		t.Fatalf("start humidity: %v", err)
	}

	// 99.0°F is below min-0.3 and 45%RH is below min: first ticks energize
	// both heaters and the humidifier.
	await(t, "actuators energized", func() bool {
		relays := sup.Status().Relays
		return relays[relay.ChannelHeater1] &&
			relays[relay.ChannelHeater2] &&
			relays[relay.ChannelHumidifier]
	})

	await(t, "published events", func() bool { return len(pub.EventsSnapshot()) >= 3 })
	types := map[control.EventType]bool{}
	systems := map[string]bool{}
	for _, e := range pub.EventsSnapshot() {
		types[e.Type] = true
		systems[e.System] = true
	}
	for _, want := range []control.EventType{control.EventHeater1On, control.EventHeater2On, control.EventHumidifierOn} {
		if !types[want] {
			t.Errorf("missing published event %s", want)
		}
	}
	if !systems["temperature"] || !systems["humidity"] {
		t.Errorf("published systems = %v", systems)
	}

	// Payloads must parse as the documented wire format.
	for _, raw := range pub.PayloadsSnapshot() {
		var p mqtt.Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatalf("bad payload %s: %v", raw, err)
		}
		if p.Incubator.Event == "" || p.Incubator.System == "" {
			t.Errorf("incomplete payload: %s", raw)
		}
	}
}

// TestIntegrationOverheatInterrupt exercises the interrupt path end to
// end: latch trips mid-run, heaters drop immediately, the regulator
// reports the lock, and control resumes when the line closes.
func TestIntegrationOverheatInterrupt(t *testing.T) {
	sup, _, _ := buildStack(t, []sensor.FakeSample{{TempF: 99.0, Humidity: 50}})

	if err := sup.Start(supervisor.SystemTemperature); err != nil {
		t.Fatalf("start: %v", err)
	}
	await(t, "heaters on", func() bool {
		relays := sup.Status().Relays
		return relays[relay.ChannelHeater1] && relays[relay.ChannelHeater2]
	})

	trip := time.Now()
	sup.Bank().HandleInterrupt(true, trip)
	relays := sup.Status().Relays
	if relays[relay.ChannelHeater1] || relays[relay.ChannelHeater2] {
		t.Fatal("interrupt must force heaters off synchronously")
	}

	// A bounce on the line inside the debounce window must not clear the
	// latch.
	sup.Bank().HandleInterrupt(false, trip.Add(50*time.Millisecond))
	if !sup.Status().SafetyLatched {
		t.Fatal("bounced close edge must not clear the latch")
	}

	await(t, "overheat lock reported", func() bool {
		return sup.Status().Temperature.OverheatTriggered
	})

	sup.Bank().HandleInterrupt(false, trip.Add(time.Second))
	if sup.Status().SafetyLatched {
		t.Fatal("latch should clear after a stable close edge")
	}
	await(t, "control resumed", func() bool {
		relays := sup.Status().Relays
		return relays[relay.ChannelHeater1] && relays[relay.ChannelHeater2]
	})
}

// TestIntegrationSensorLossForcesOff drives the stack into sensor failure
// with a short staleness window and checks the forced-off guarantee.
func TestIntegrationSensorLossForcesOff(t *testing.T) {
	readErr := errors.New("i2c: remote I/O error")
	sup, _, pub := buildStack(t, []sensor.FakeSample{
		{TempF: 99.0, Humidity: 50}, // init probe
		{TempF: 99.0, Humidity: 50},
		{Err: readErr},
	})

	// Shrink the staleness window so the escalation happens within the
	// test's real-time budget.
	next := sup.Settings()
	next.Temperature.SensorTimeout = 50 * time.Millisecond
	next.Temperature.Interval = 40 * time.Millisecond
	if err := sup.Apply(next); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := sup.Start(supervisor.SystemTemperature); err != nil {
		t.Fatalf("start: %v", err)
	}
	await(t, "heaters on", func() bool { return sup.Status().Relays[relay.ChannelHeater1] })

	await(t, "sensor failure escalation", func() bool {
		return sup.Status().Temperature.SensorFailure
	})
	relays := sup.Status().Relays
	if relays[relay.ChannelHeater1] || relays[relay.ChannelHeater2] {
		t.Error("heaters must be off in sensor failure")
	}

	found := false
	for _, e := range pub.EventsSnapshot() {
		if e.Type == control.EventSensorFailure {
			found = true
		}
	}
	if !found {
		t.Error("sensor failure event should be published")
	}
}

// TestIntegrationStopLeavesEverythingOff runs both loops, then stops the
// supervisor and verifies the hardware-level writes landed.
func TestIntegrationStopLeavesEverythingOff(t *testing.T) {
	sup, out, _ := buildStack(t, []sensor.FakeSample{{TempF: 99.0, Humidity: 45}})

	if err := sup.StartEnabled(); err != nil {
		t.Fatalf("StartEnabled: %v", err)
	}
	await(t, "actuators on", func() bool {
		relays := sup.Status().Relays
		return relays[relay.ChannelHeater1] && relays[relay.ChannelHumidifier]
	})

	sup.StopAll()

	if out.States != ([relay.NumChannels]bool{}) {
		t.Errorf("hardware states after StopAll = %v, want all off", out.States)
	}
	st := sup.Status()
	if st.Temperature.Running || st.Humidity.Running {
		t.Error("regulators should report stopped")
	}
}
