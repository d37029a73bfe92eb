package control

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/crandall/incubator/internal/relay"
	"github.com/crandall/incubator/internal/sensor"
)

// State names a regulator's current mode.
type State string

const (
	StateIdle          State = "IDLE"
	StateHeating1      State = "HEATING_1"
	StateHeating12     State = "HEATING_1_2"
	StateHolding       State = "HOLDING"
	StateSafetyCutoff  State = "SAFETY_CUTOFF"
	StateSensorFailure State = "SENSOR_FAILURE"
	StateOverheatLock  State = "OVERHEAT_LOCK"
	StateHumidifying   State = "HUMIDIFYING"
)

// DefaultThermalInterval is the thermal control loop period.
const DefaultThermalInterval = 5 * time.Second

// StopTimeout bounds how long Stop waits for a worker to exit before
// forcing outputs off anyway. Variable so tests can shorten the wait.
var StopTimeout = 10 * time.Second

var (
	ErrAlreadyRunning = errors.New("control: already running")
	ErrNotRunning     = errors.New("control: not running")
)

// ThermalStatus is a lock-consistent snapshot of the thermal regulator.
type ThermalStatus struct {
	Running           bool
	State             State
	CurrentTemp       *float64
	CurrentHumidity   *float64
	Config            ThermalConfig
	Heater1On         bool
	Heater2On         bool
	SafetyTriggered   bool
	SensorFailure     bool
	OverheatTriggered bool
	LastReadingTime   time.Time
}

// Thermal regulates enclosure temperature with two heaters.
//
// One background worker runs the tick loop; the overheat interrupt can
// preempt it at any time by forcing the heaters off inside the relay bank.
// The worker observes the latch at its next tick and holds OverheatLock
// until the hardware reports normal again.
type Thermal struct {
	proxy  *sensor.Proxy
	bank   *relay.Bank
	notify Notifier

	mu      sync.Mutex
	cfg     ThermalConfig
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	state             State
	currentTemp       *float64
	currentHumidity   *float64
	heater1On         bool
	heater2On         bool
	safetyTriggered   bool
	sensorFailure     bool
	overheatTriggered bool
	lastReading       time.Time
}

// NewThermal creates a thermal regulator over the given sensor and relay
// bank. The config must validate.
func NewThermal(proxy *sensor.Proxy, bank *relay.Bank, cfg ThermalConfig, notify Notifier) (*Thermal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Thermal{
		proxy:  proxy,
		bank:   bank,
		notify: notify,
		cfg:    cfg,
		state:  StateIdle,
	}, nil
}

// Start spawns the control loop. Returns ErrAlreadyRunning if a worker is
// already live.
func (t *Thermal) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultThermalInterval
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrAlreadyRunning
	}
	t.running = true
	t.safetyTriggered = false
	t.sensorFailure = false
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	go t.run(interval, t.stopCh, t.doneCh)

	log.WithFields(log.Fields{
		"target": t.cfg.Target,
		"min":    t.cfg.Min,
		"max":    t.cfg.Max,
	}).Info("thermal regulator started")
	return nil
}

// Stop signals the worker, waits up to StopTimeout for it to exit, then
// forces both heaters off regardless. Outputs-safe takes priority over a
// clean join: an unresponsive worker never leaves a heater energized.
func (t *Thermal) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return ErrNotRunning
	}
	t.running = false
	close(t.stopCh)
	done := t.doneCh
	t.mu.Unlock()

	select {
	case <-done:
	case <-time.After(StopTimeout):
		log.Warn("thermal worker did not exit in time, forcing heaters off anyway")
	}

	t.forceHeatersOff(time.Now())

	t.mu.Lock()
	t.state = StateIdle
	t.mu.Unlock()

	log.Info("thermal regulator stopped")
	return nil
}

// Running reports whether a control loop is live.
func (t *Thermal) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// UpdateConfig validates and atomically swaps the configuration. It takes
// effect on the regulator's next tick.
func (t *Thermal) UpdateConfig(cfg ThermalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	return nil
}

// Config returns the active configuration.
func (t *Thermal) Config() ThermalConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Status returns a point-in-time snapshot, consistent under one critical
// section.
func (t *Thermal) Status() ThermalStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ThermalStatus{
		Running:           t.running,
		State:             t.state,
		CurrentTemp:       t.currentTemp,
		CurrentHumidity:   t.currentHumidity,
		Config:            t.cfg,
		Heater1On:         t.heater1On,
		Heater2On:         t.heater2On,
		SafetyTriggered:   t.safetyTriggered,
		SensorFailure:     t.sensorFailure,
		OverheatTriggered: t.overheatTriggered,
		LastReadingTime:   t.lastReading,
	}
}

func (t *Thermal) run(interval time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Act immediately on start rather than waiting out the first period.
	t.tick(time.Now())

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			t.tick(now)
		}
	}
}

// tick runs one regulation cycle. A panic anywhere in the cycle forces the
// heaters off before the tick is abandoned; the loop keeps running.
func (t *Thermal) tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("thermal tick panicked: %v", r)
			t.forceHeatersOff(now)
		}
	}()

	for _, e := range t.step(now) {
		if t.notify != nil {
			t.notify(e)
		}
	}
}

// step holds the lock for the whole cycle and returns the events to
// publish once it is released.
func (t *Thermal) step(now time.Time) []Event {
	reading, readErr := t.proxy.Read(now)

	t.mu.Lock()
	defer t.mu.Unlock()

	// A tick that was blocked inside the sensor read while Stop gave up
	// waiting must not act on its stale decision: Stop already forced the
	// heaters off, and there is no loop left to undo a re-energize.
	if stopRequested(t.stopCh) {
		return nil
	}

	var events []Event
	emit := func(typ EventType, v float64) {
		events = append(events, Event{Time: now, Type: typ, System: "temperature", Value: v})
	}

	t.lastReading = now
	if readErr != nil {
		t.currentTemp = nil
		t.currentHumidity = nil
	} else {
		temp, hum := reading.TempF, reading.Humidity
		t.currentTemp = &temp
		t.currentHumidity = &hum
	}

	// The hardware latch overrides everything else. The interrupt already
	// forced the heaters off; repeat the writes here so the runtime state
	// converges even if that path raced a TurnOn.
	if t.bank.SafetyLatched() {
		if !t.overheatTriggered {
			t.overheatTriggered = true
			log.Warn("overheat interrupt active, suspending thermal control")
			emit(EventOverheatLock, deref(t.currentTemp))
		}
		t.offLocked(emit)
		t.state = StateOverheatLock
		return events
	}
	if t.overheatTriggered {
		t.overheatTriggered = false
		log.Info("overheat interrupt cleared, resuming thermal control")
		emit(EventOverheatClear, deref(t.currentTemp))
	}

	// Failed sample: absorbed while the sensor is still within its
	// staleness window, escalated to forced-off beyond it.
	if readErr != nil {
		if t.proxy.Active(now, t.cfg.SensorTimeout) {
			log.WithError(readErr).Warn("dropped sensor sample")
			return events
		}
		if !t.sensorFailure {
			t.sensorFailure = true
			log.WithError(readErr).Error("sensor failure, heaters forced off")
			emit(EventSensorFailure, 0)
		}
		t.offLocked(emit)
		t.state = StateSensorFailure
		return events
	}
	if t.sensorFailure {
		t.sensorFailure = false
		log.Info("sensor restored")
		emit(EventSensorRestored, reading.TempF)
	}

	temp := reading.TempF

	// Hard safety limit. Once triggered, the regulator stays in cutoff
	// until a reading falls a full hysteresis band below the limit.
	if t.safetyTriggered {
		if temp < t.cfg.SafetyCutoff-Hysteresis {
			t.safetyTriggered = false
			log.Infof("temperature %.2f°F below recovery threshold, resuming normal control", temp)
			emit(EventSafetyCleared, temp)
		} else {
			t.offLocked(emit)
			t.state = StateSafetyCutoff
			return events
		}
	}
	if temp >= t.cfg.SafetyCutoff {
		t.safetyTriggered = true
		log.Warnf("SAFETY CUTOFF: temperature %.2f°F at or above limit %.2f°F", temp, t.cfg.SafetyCutoff)
		emit(EventSafetyCutoff, temp)
		t.offLocked(emit)
		t.state = StateSafetyCutoff
		return events
	}

	// Normal bang-bang control.
	band := Band{Min: t.cfg.Min, Target: t.cfg.Target, Max: t.cfg.Max, Boost: Hysteresis}
	switch band.Evaluate(temp) {
	case LevelHigh:
		t.applyLocked(relay.ChannelHeater1, &t.heater1On, true, temp, emit)
		t.applyLocked(relay.ChannelHeater2, &t.heater2On, true, temp, emit)
		t.state = StateHeating12
	case LevelLow:
		t.applyLocked(relay.ChannelHeater1, &t.heater1On, true, temp, emit)
		t.applyLocked(relay.ChannelHeater2, &t.heater2On, false, temp, emit)
		t.state = StateHeating1
	default:
		t.applyLocked(relay.ChannelHeater1, &t.heater1On, false, temp, emit)
		t.applyLocked(relay.ChannelHeater2, &t.heater2On, false, temp, emit)
		t.state = StateHolding
	}
	return events
}

// applyLocked issues a hardware write only when the desired state differs
// from the tracked one. A blocked write on a protected channel is reported
// and the tracked state stays off.
func (t *Thermal) applyLocked(ch int, cur *bool, want bool, temp float64, emit func(EventType, float64)) {
	if *cur == want {
		return
	}
	var err error
	if want {
		err = t.bank.TurnOn(ch)
	} else {
		err = t.bank.TurnOff(ch)
	}
	if err != nil {
		log.WithError(err).Warnf("apply %s", relay.ChannelName(ch))
		return
	}
	*cur = want
	emit(heaterEvent(ch, want), temp)
}

// offLocked forces both heaters off with unconditional hardware writes.
// Used by every escalation path; errors are logged, never propagated.
func (t *Thermal) offLocked(emit func(EventType, float64)) {
	for _, ch := range []int{relay.ChannelHeater1, relay.ChannelHeater2} {
		if err := t.bank.TurnOff(ch); err != nil {
			log.WithError(err).Errorf("force off %s", relay.ChannelName(ch))
		}
	}
	if t.heater1On {
		t.heater1On = false
		emit(EventHeater1Off, deref(t.currentTemp))
	}
	if t.heater2On {
		t.heater2On = false
		emit(EventHeater2Off, deref(t.currentTemp))
	}
}

// forceHeatersOff is the out-of-band variant used by Stop and the panic
// fallback.
func (t *Thermal) forceHeatersOff(now time.Time) {
	t.mu.Lock()
	var events []Event
	t.offLocked(func(typ EventType, v float64) {
		events = append(events, Event{Time: now, Type: typ, System: "temperature", Value: v})
	})
	t.mu.Unlock()

	for _, e := range events {
		if t.notify != nil {
			t.notify(e)
		}
	}
}

// stopRequested reports whether ch is a closed stop channel. A nil channel
// means the regulator is being driven directly rather than by a worker.
func stopRequested(ch chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func heaterEvent(ch int, on bool) EventType {
	if ch == relay.ChannelHeater1 {
		if on {
			return EventHeater1On
		}
		return EventHeater1Off
	}
	if on {
		return EventHeater2On
	}
	return EventHeater2Off
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
