package control

import "time"

// EventType identifies a regulator state transition worth publishing.
type EventType string

const (
	EventHeater1On     EventType = "HEATER1_ON"
	EventHeater1Off    EventType = "HEATER1_OFF"
	EventHeater2On     EventType = "HEATER2_ON"
	EventHeater2Off    EventType = "HEATER2_OFF"
	EventHumidifierOn  EventType = "HUMIDIFIER_ON"
	EventHumidifierOff EventType = "HUMIDIFIER_OFF"

	EventSafetyCutoff   EventType = "SAFETY_CUTOFF"
	EventSafetyCleared  EventType = "SAFETY_CLEARED"
	EventSensorFailure  EventType = "SENSOR_FAILURE"
	EventSensorRestored EventType = "SENSOR_RESTORED"
	EventOverheatLock   EventType = "OVERHEAT_LOCK"
	EventOverheatClear  EventType = "OVERHEAT_CLEARED"
)

// Event is a single regulator transition. Value carries the reading that
// caused it, when one exists.
type Event struct {
	Time   time.Time
	Type   EventType
	System string // "temperature" or "humidity"
	Value  float64
}

// Notifier receives regulator events. It is called outside the regulator's
// critical section and must not block for long. A nil Notifier disables
// event delivery.
type Notifier func(Event)
