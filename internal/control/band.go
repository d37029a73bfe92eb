// Package control implements the thermal and humidity regulation state
// machines. Both are bang-bang controllers over a shared band evaluator;
// the thermal one adds safety-cutoff, sensor-staleness, and overheat-latch
// escalation on top.
package control

// Hysteresis is the band applied below trigger thresholds to prevent
// actuator chatter. The incubator runs in Fahrenheit, so this is °F for the
// thermal regulator. Tunable, not a law of the domain.
const Hysteresis = 0.3

// Level is the actuation demand produced by a band evaluation.
type Level int

const (
	LevelOff  Level = iota // all actuators off
	LevelLow               // primary actuator only
	LevelHigh              // boost: all actuators
)

// Band evaluates a bang-bang policy over min/target/max thresholds.
// Boost is the sub-minimum offset past which demand escalates to LevelHigh;
// zero disables the boost stage (single-actuator systems).
//
// Both regulators evaluate through this one type so their threshold logic
// cannot drift apart.
type Band struct {
	Min    float64
	Target float64
	Max    float64
	Boost  float64
}

// Evaluate returns the demand for the given measurement.
func (b Band) Evaluate(v float64) Level {
	switch {
	case v < b.Min:
		if b.Boost > 0 && v < b.Min-b.Boost {
			return LevelHigh
		}
		return LevelLow
	case v > b.Max:
		return LevelOff
	case v < b.Target:
		return LevelLow
	default:
		return LevelOff
	}
}
