package control

import (
	"fmt"
	"time"
)

// ThermalConfig holds the thermal regulator's thresholds. Temperatures are
// °F and must satisfy min ≤ target ≤ max < safety_cutoff.
type ThermalConfig struct {
	Target        float64
	Min           float64
	Max           float64
	SafetyCutoff  float64
	SensorTimeout time.Duration
}

// DefaultThermalConfig returns the stock chicken-egg incubation profile.
func DefaultThermalConfig() ThermalConfig {
	return ThermalConfig{
		Target:        99.8,
		Min:           99.6,
		Max:           100.2,
		SafetyCutoff:  100.3,
		SensorTimeout: 30 * time.Second,
	}
}

// Validate checks the ordering constraints. A violation rejects the whole
// config; callers retain the previous one.
func (c ThermalConfig) Validate() error {
	if c.Min > c.Target {
		return fmt.Errorf("thermal config: min %.2f > target %.2f", c.Min, c.Target)
	}
	if c.Target > c.Max {
		return fmt.Errorf("thermal config: target %.2f > max %.2f", c.Target, c.Max)
	}
	if c.SafetyCutoff <= c.Max {
		return fmt.Errorf("thermal config: safety cutoff %.2f must exceed max %.2f", c.SafetyCutoff, c.Max)
	}
	if c.SensorTimeout <= 0 {
		return fmt.Errorf("thermal config: sensor timeout must be positive, got %v", c.SensorTimeout)
	}
	return nil
}

// HumidityConfig holds the humidity regulator's thresholds in %RH,
// satisfying min ≤ target ≤ max.
type HumidityConfig struct {
	Target float64
	Min    float64
	Max    float64
}

// DefaultHumidityConfig returns the stock incubation profile.
func DefaultHumidityConfig() HumidityConfig {
	return HumidityConfig{Target: 60, Min: 55, Max: 65}
}

// Validate checks the ordering constraints.
func (c HumidityConfig) Validate() error {
	if c.Min > c.Target {
		return fmt.Errorf("humidity config: min %.2f > target %.2f", c.Min, c.Target)
	}
	if c.Target > c.Max {
		return fmt.Errorf("humidity config: target %.2f > max %.2f", c.Target, c.Max)
	}
	return nil
}
