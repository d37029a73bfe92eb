package control

import "testing"

func TestThermalBandThresholds(t *testing.T) {
	b := Band{Min: 99.6, Target: 99.8, Max: 100.2, Boost: Hysteresis}

	tests := []struct {
		temp float64
		want Level
	}{
		{99.0, LevelHigh},   // well below min
		{99.29, LevelHigh},  // just past the boost threshold
		{99.31, LevelLow},   // inside the boost band
		{99.59, LevelLow},   // just below min
		{99.6, LevelLow},    // at min, below target
		{99.7, LevelLow},    // in range, below target
		{99.8, LevelOff},    // at target
		{100.0, LevelOff},   // in range, above target
		{100.2, LevelOff},   // at max
		{100.21, LevelOff},  // above max
		{101.0, LevelOff},   // well above max
	}
	for _, tt := range tests {
		if got := b.Evaluate(tt.temp); got != tt.want {
			t.Errorf("Evaluate(%.2f): got %v, want %v", tt.temp, got, tt.want)
		}
	}
}

func TestBoostBoundaryEitherSide(t *testing.T) {
	// min − 0.31 turns both heaters on; min − 0.29 only the first.
	b := Band{Min: 99.6, Target: 99.8, Max: 100.2, Boost: Hysteresis}

	if got := b.Evaluate(99.6 - 0.31); got != LevelHigh {
		t.Errorf("just past boost threshold: got %v, want LevelHigh", got)
	}
	if got := b.Evaluate(99.6 - 0.29); got != LevelLow {
		t.Errorf("just inside boost band: got %v, want LevelLow", got)
	}
}

func TestHumidityBandNoBoost(t *testing.T) {
	b := Band{Min: 55, Target: 60, Max: 65}

	tests := []struct {
		humidity float64
		want     Level
	}{
		{50, LevelLow},  // below min
		{54.9, LevelLow},
		{55, LevelLow},  // at min, below target
		{58, LevelLow},  // in range, below target
		{60, LevelOff},  // at target
		{63, LevelOff},  // in range, above target
		{65, LevelOff},  // at max
		{66, LevelOff},  // above max
	}
	for _, tt := range tests {
		if got := b.Evaluate(tt.humidity); got != tt.want {
			t.Errorf("Evaluate(%.1f): got %v, want %v", tt.humidity, got, tt.want)
		}
	}
}

func TestZeroBoostNeverEscalates(t *testing.T) {
	b := Band{Min: 55, Target: 60, Max: 65}
	if got := b.Evaluate(10); got != LevelLow {
		t.Errorf("far below min without boost: got %v, want LevelLow", got)
	}
}
