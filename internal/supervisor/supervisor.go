// Package supervisor owns the regulator instances and aggregates their
// lifecycle for the API layer. There are no package-level singletons: the
// daemon builds one Supervisor and hands it to the web server.
package supervisor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/crandall/incubator/internal/control"
	"github.com/crandall/incubator/internal/mqtt"
	"github.com/crandall/incubator/internal/relay"
	"github.com/crandall/incubator/internal/sensor"
	"github.com/crandall/incubator/internal/settings"
)

// System names one regulator.
type System string

const (
	SystemTemperature System = "temperature"
	SystemHumidity    System = "humidity"
)

var (
	// ErrNotInitialized is returned by Start while the hardware probe has
	// not succeeded. The supervisor stays queryable so the API can report
	// why nothing is running.
	ErrNotInitialized = errors.New("supervisor: hardware not initialized")

	// ErrUnknownSystem is returned for a system name outside the two
	// regulators.
	ErrUnknownSystem = errors.New("supervisor: unknown system")
)

// Status is a combined point-in-time snapshot of both regulators and the
// shared hardware.
type Status struct {
	Initialized   bool
	StartedAt     time.Time
	SafetyLatched bool
	Relays        [relay.NumChannels]bool
	Temperature   control.ThermalStatus
	Humidity      control.HumidityStatus
}

// Supervisor wires one sensor, one relay bank, and both regulators
// together behind a single lifecycle surface.
type Supervisor struct {
	store *settings.Store
	proxy *sensor.Proxy
	bank  *relay.Bank
	pub   mqtt.Publisher

	thermal  *control.Thermal
	humidity *control.Humidity

	// initialized flips from the constructor probe and from Reset, and is
	// read by Start and Status from API goroutines.
	initialized atomic.Bool
	startedAt   time.Time
}

// New builds the regulators from the persisted settings and probes the
// sensor once. A failed probe leaves the supervisor constructed but
// uninitialized; Start refuses until Reset brings the hardware up.
func New(store *settings.Store, proxy *sensor.Proxy, bank *relay.Bank, pub mqtt.Publisher) (*Supervisor, error) {
	s := &Supervisor{
		store:     store,
		proxy:     proxy,
		bank:      bank,
		pub:       pub,
		startedAt: time.Now(),
	}

	cfg := store.Get()
	var err error
	s.thermal, err = control.NewThermal(proxy, bank, cfg.Temperature.ControlConfig(), s.notify)
	if err != nil {
		return nil, fmt.Errorf("supervisor: thermal: %w", err)
	}
	s.humidity, err = control.NewHumidity(proxy, bank, cfg.Humidity.ControlConfig(), s.notify)
	if err != nil {
		return nil, fmt.Errorf("supervisor: humidity: %w", err)
	}

	bank.ArmSafety(s.onSafety)

	if _, err := proxy.Read(time.Now()); err != nil {
		log.WithError(err).Error("sensor probe failed, regulators will refuse to start")
	} else {
		s.initialized.Store(true)
	}
	return s, nil
}

// Initialized reports whether the hardware probe has succeeded.
func (s *Supervisor) Initialized() bool {
	return s.initialized.Load()
}

// Start spawns the named regulator's control loop. Loop periods come from
// the persisted settings.
func (s *Supervisor) Start(sys System) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	cfg := s.store.Get()
	switch sys {
	case SystemTemperature:
		return s.thermal.Start(cfg.Temperature.Interval)
	case SystemHumidity:
		return s.humidity.Start(cfg.Humidity.Interval)
	}
	return fmt.Errorf("%w: %s", ErrUnknownSystem, sys)
}

// Stop halts the named regulator, forcing its outputs off.
func (s *Supervisor) Stop(sys System) error {
	switch sys {
	case SystemTemperature:
		return s.thermal.Stop()
	case SystemHumidity:
		return s.humidity.Stop()
	}
	return fmt.Errorf("%w: %s", ErrUnknownSystem, sys)
}

// StartEnabled starts every regulator the settings enable. Used at daemon
// startup and after Reset.
func (s *Supervisor) StartEnabled() error {
	cfg := s.store.Get()
	if cfg.Temperature.Enabled {
		if err := s.Start(SystemTemperature); err != nil && !errors.Is(err, control.ErrAlreadyRunning) {
			return err
		}
	}
	if cfg.Humidity.Enabled {
		if err := s.Start(SystemHumidity); err != nil && !errors.Is(err, control.ErrAlreadyRunning) {
			return err
		}
	}
	return nil
}

// StopAll halts both regulators and de-energizes every relay channel. Safe
// to call regardless of what is running.
func (s *Supervisor) StopAll() {
	if err := s.thermal.Stop(); err != nil && !errors.Is(err, control.ErrNotRunning) {
		log.WithError(err).Error("stop thermal")
	}
	if err := s.humidity.Stop(); err != nil && !errors.Is(err, control.ErrNotRunning) {
		log.WithError(err).Error("stop humidity")
	}
	if err := s.bank.AllOff(); err != nil {
		log.WithError(err).Error("all off")
	}
}

// Reset stops everything, reconnects the sensor, and restarts whatever the
// settings enable. A regulator stuck in SensorFailure comes back through
// here after the wiring is fixed.
func (s *Supervisor) Reset() error {
	log.Info("resetting controllers")
	s.StopAll()

	if err := s.proxy.Reconnect(); err != nil {
		s.initialized.Store(false)
		return fmt.Errorf("supervisor: reset: %w", err)
	}
	if _, err := s.proxy.Read(time.Now()); err != nil {
		s.initialized.Store(false)
		return fmt.Errorf("supervisor: reset probe: %w", err)
	}
	s.initialized.Store(true)
	return s.StartEnabled()
}

// Apply validates and persists next, then pushes the regulator thresholds
// live. Running loops pick the new config up on their next tick.
func (s *Supervisor) Apply(next settings.Settings) error {
	if err := s.store.Update(next); err != nil {
		return err
	}
	if err := s.thermal.UpdateConfig(next.Temperature.ControlConfig()); err != nil {
		return err
	}
	return s.humidity.UpdateConfig(next.Humidity.ControlConfig())
}

// Settings returns the current persisted settings.
func (s *Supervisor) Settings() settings.Settings {
	return s.store.Get()
}

// Status returns a combined snapshot of both regulators and the relay
// bank.
func (s *Supervisor) Status() Status {
	return Status{
		Initialized:   s.initialized.Load(),
		StartedAt:     s.startedAt,
		SafetyLatched: s.bank.SafetyLatched(),
		Relays:        s.bank.States(),
		Temperature:   s.thermal.Status(),
		Humidity:      s.humidity.Status(),
	}
}

// Bank exposes the relay bank for manual channel control.
func (s *Supervisor) Bank() *relay.Bank {
	return s.bank
}

// notify fans a regulator event out to the log and the broker.
func (s *Supervisor) notify(e control.Event) {
	log.WithFields(log.Fields{
		"event":  e.Type,
		"system": e.System,
		"value":  e.Value,
	}).Info("regulator event")

	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(e); err != nil {
		log.WithError(err).Warn("publish event")
	}
}

// onSafety runs on each safety latch transition, from the interrupt
// goroutine. The bank has already forced the protected channels off.
func (s *Supervisor) onSafety(triggered bool) {
	if s.pub == nil {
		return
	}
	evt := "OVERHEAT_CLEARED"
	if triggered {
		evt = "OVERHEAT"
	}
	err := s.pub.PublishSystem(mqtt.SystemEvent{Timestamp: time.Now(), Event: evt})
	if err != nil {
		log.WithError(err).Warn("publish safety event")
	}
}
