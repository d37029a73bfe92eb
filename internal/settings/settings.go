// Package settings persists the incubator's runtime configuration as a
// YAML file. The file is loaded once at startup and rewritten whenever the
// API changes a threshold, so settings survive a restart.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crandall/incubator/internal/control"
)

// Temperature holds the thermal regulator settings.
type Temperature struct {
	Enabled       bool          `yaml:"enabled"`
	Target        float64       `yaml:"target"`
	Min           float64       `yaml:"min"`
	Max           float64       `yaml:"max"`
	SafetyCutoff  float64       `yaml:"safety_cutoff"`
	SensorTimeout time.Duration `yaml:"sensor_timeout"`
	Interval      time.Duration `yaml:"interval"`
}

// ControlConfig converts to the regulator's config type.
func (t Temperature) ControlConfig() control.ThermalConfig {
	return control.ThermalConfig{
		Target:        t.Target,
		Min:           t.Min,
		Max:           t.Max,
		SafetyCutoff:  t.SafetyCutoff,
		SensorTimeout: t.SensorTimeout,
	}
}

// Humidity holds the humidity regulator settings.
type Humidity struct {
	Enabled  bool          `yaml:"enabled"`
	Target   float64       `yaml:"target"`
	Min      float64       `yaml:"min"`
	Max      float64       `yaml:"max"`
	Interval time.Duration `yaml:"interval"`
}

// ControlConfig converts to the regulator's config type.
func (h Humidity) ControlConfig() control.HumidityConfig {
	return control.HumidityConfig{Target: h.Target, Min: h.Min, Max: h.Max}
}

// MQTT holds the event publisher settings.
type MQTT struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Web holds the HTTP API settings.
type Web struct {
	Listen string `yaml:"listen"`
}

// Hardware holds device paths and addresses.
type Hardware struct {
	I2CDevice  string `yaml:"i2c_device"`
	SensorAddr uint8  `yaml:"sensor_addr"`
	GPIODevice string `yaml:"gpio_device"`
}

// Settings is the full persisted configuration.
type Settings struct {
	Temperature Temperature `yaml:"temperature"`
	Humidity    Humidity    `yaml:"humidity"`
	MQTT        MQTT        `yaml:"mqtt"`
	Web         Web         `yaml:"web"`
	Hardware    Hardware    `yaml:"hardware"`
}

// Defaults returns the stock chicken-egg incubation profile.
func Defaults() Settings {
	tc := control.DefaultThermalConfig()
	hc := control.DefaultHumidityConfig()
	return Settings{
		Temperature: Temperature{
			Enabled:       true,
			Target:        tc.Target,
			Min:           tc.Min,
			Max:           tc.Max,
			SafetyCutoff:  tc.SafetyCutoff,
			SensorTimeout: tc.SensorTimeout,
			Interval:      control.DefaultThermalInterval,
		},
		Humidity: Humidity{
			Enabled:  true,
			Target:   hc.Target,
			Min:      hc.Min,
			Max:      hc.Max,
			Interval: control.DefaultHumidityInterval,
		},
		MQTT: MQTT{
			Broker:      "tcp://localhost:1883",
			ClientID:    "incubatord",
			TopicPrefix: "incubator",
		},
		Web: Web{
			Listen: ":8080",
		},
		Hardware: Hardware{
			I2CDevice:  "/dev/i2c-1",
			SensorAddr: 0x44,
			GPIODevice: "gpiochip0",
		},
	}
}

// Validate checks the regulator thresholds and loop periods.
func (s Settings) Validate() error {
	if err := s.Temperature.ControlConfig().Validate(); err != nil {
		return err
	}
	if err := s.Humidity.ControlConfig().Validate(); err != nil {
		return err
	}
	if s.Temperature.Interval <= 0 {
		return fmt.Errorf("settings: temperature interval must be positive, got %v", s.Temperature.Interval)
	}
	if s.Humidity.Interval <= 0 {
		return fmt.Errorf("settings: humidity interval must be positive, got %v", s.Humidity.Interval)
	}
	return nil
}

// Store owns the settings file. All access goes through the Store so a
// concurrent API update cannot interleave with a save.
type Store struct {
	path string

	mu  sync.Mutex
	cur Settings
}

// Open loads the settings file at path, creating it with defaults when it
// does not exist. Fields absent from the file keep their default values.
func Open(path string) (*Store, error) {
	s := &Store{path: path, cur: Defaults()}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("settings: write defaults: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}

	// Unmarshal over the defaults so a partial file merges cleanly.
	if err := yaml.Unmarshal(b, &s.cur); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	if err := s.cur.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Update validates next, persists it, and makes it current. On any error
// the previous settings remain in effect.
func (s *Store) Update(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cur
	s.cur = next
	if err := s.save(); err != nil {
		s.cur = prev
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// save writes the current settings with a rename so a crash mid-write never
// truncates the live file. Caller holds the lock (or the Store is private).
func (s *Store) save() error {
	b, err := yaml.Marshal(s.cur)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
