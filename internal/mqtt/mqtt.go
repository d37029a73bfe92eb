// Package mqtt publishes incubator regulator events to an MQTT broker,
// with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/crandall/incubator/internal/control"
)

// DefaultTopicPrefix is the root of the incubator topic tree when the
// settings file does not override it.
const DefaultTopicPrefix = "incubator"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a regulator event to the broker.
	// Returns error if publishing fails (must not crash the process).
	Publish(event control.Event) error

	// PublishSystem sends a daemon lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a daemon lifecycle event.
type SystemEvent struct {
	Timestamp time.Time
	Event     string          // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason    string          // e.g., "SIGTERM", "SIGINT" (shutdown only)
	Status    json.RawMessage // Pre-serialized status snapshot, embedded under "status"
	Retained  bool            // Whether the message should be retained by the broker
}

// Payload is the MQTT message structure for regulator events.
type Payload struct {
	Incubator EventPayload `json:"incubator"`
}

// EventPayload carries one regulator transition.
type EventPayload struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	System    string  `json:"system"`
	Value     float64 `json:"value"`
}

// FormatPayload creates the JSON payload for a regulator event.
func FormatPayload(event control.Event) ([]byte, error) {
	payload := Payload{
		Incubator: EventPayload{
			Timestamp: event.Time.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			System:    event.System,
			Value:     event.Value,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the MQTT message structure for lifecycle events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the lifecycle event details. Status carries
// the full snapshot on STARTUP/SHUTDOWN and is omitted for simple events.
type SystemPayloadInner struct {
	Timestamp string          `json:"timestamp"`
	Event     string          `json:"event"`
	Reason    string          `json:"reason,omitempty"`
	Status    json.RawMessage `json:"status,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a lifecycle event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Status:    event.Status,
		},
	}
	return json.Marshal(payload)
}
