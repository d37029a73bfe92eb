package web

import (
	"encoding/json"
	"time"

	"github.com/crandall/incubator/internal/mqtt"
	"github.com/crandall/incubator/internal/settings"
	"github.com/crandall/incubator/internal/supervisor"
)

// StatusJSON is the combined status document served at /api/status.
type StatusJSON struct {
	Temperature TemperatureStatusJSON `json:"temperature"`
	Humidity    HumidityStatusJSON    `json:"humidity"`
	System      SystemStatusJSON      `json:"system"`
}

// TemperatureStatusJSON reports the thermal regulator.
type TemperatureStatusJSON struct {
	Current           *float64 `json:"current"`
	Target            float64  `json:"target"`
	Min               float64  `json:"min"`
	Max               float64  `json:"max"`
	SafetyCutoff      float64  `json:"safety_cutoff"`
	State             string   `json:"state"`
	Heater1Status     bool     `json:"heater1_status"`
	Heater2Status     bool     `json:"heater2_status"`
	SafetyTriggered   bool     `json:"safety_triggered"`
	SensorFailure     bool     `json:"sensor_failure"`
	OverheatTriggered bool     `json:"overheat_triggered"`
	IsRunning         bool     `json:"is_running"`
	LastReadingTime   string   `json:"last_reading_time"`
}

// HumidityStatusJSON reports the humidity regulator.
type HumidityStatusJSON struct {
	Current          *float64 `json:"current"`
	Target           float64  `json:"target"`
	Min              float64  `json:"min"`
	Max              float64  `json:"max"`
	State            string   `json:"state"`
	HumidifierStatus bool     `json:"humidifier_status"`
	IsRunning        bool     `json:"is_running"`
	LastReadingTime  string   `json:"last_reading_time"`
}

// SystemStatusJSON reports daemon-level state.
type SystemStatusJSON struct {
	Time          string `json:"time"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Initialized   bool   `json:"initialized"`
	SafetyLatched bool   `json:"safety_latched"`
	MQTTConnected *bool  `json:"mqtt_connected,omitempty"`
}

// ResultJSON is the envelope for mutation endpoints.
type ResultJSON struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func formatStatus(st supervisor.Status, mqttConnected *bool, now time.Time) StatusJSON {
	return StatusJSON{
		Temperature: TemperatureStatusJSON{
			Current:           st.Temperature.CurrentTemp,
			Target:            st.Temperature.Config.Target,
			Min:               st.Temperature.Config.Min,
			Max:               st.Temperature.Config.Max,
			SafetyCutoff:      st.Temperature.Config.SafetyCutoff,
			State:             string(st.Temperature.State),
			Heater1Status:     st.Temperature.Heater1On,
			Heater2Status:     st.Temperature.Heater2On,
			SafetyTriggered:   st.Temperature.SafetyTriggered,
			SensorFailure:     st.Temperature.SensorFailure,
			OverheatTriggered: st.Temperature.OverheatTriggered,
			IsRunning:         st.Temperature.Running,
			LastReadingTime:   formatTime(st.Temperature.LastReadingTime),
		},
		Humidity: HumidityStatusJSON{
			Current:          st.Humidity.CurrentHumidity,
			Target:           st.Humidity.Config.Target,
			Min:              st.Humidity.Config.Min,
			Max:              st.Humidity.Config.Max,
			State:            string(st.Humidity.State),
			HumidifierStatus: st.Humidity.HumidifierOn,
			IsRunning:        st.Humidity.Running,
			LastReadingTime:  formatTime(st.Humidity.LastReadingTime),
		},
		System: SystemStatusJSON{
			Time:          now.UTC().Format(time.RFC3339),
			UptimeSeconds: int64(now.Sub(st.StartedAt).Truncate(time.Second).Seconds()),
			Initialized:   st.Initialized,
			SafetyLatched: st.SafetyLatched,
			MQTTConnected: mqttConnected,
		},
	}
}

// StatusPayload serializes the same snapshot document served at
// /api/status, for embedding in MQTT lifecycle events. mqttStatus may be
// nil when no broker is configured.
func StatusPayload(sup *supervisor.Supervisor, mqttStatus mqtt.ConnectionStatus, now time.Time) ([]byte, error) {
	var connected *bool
	if mqttStatus != nil {
		c := mqttStatus.IsConnected()
		connected = &c
	}
	return json.Marshal(formatStatus(sup.Status(), connected, now))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// SettingsJSON is the settings document served and accepted at
// /api/settings. Durations are seconds.
type SettingsJSON struct {
	Temperature TemperatureSettingsJSON `json:"temperature"`
	Humidity    HumiditySettingsJSON    `json:"humidity"`
}

// TemperatureSettingsJSON mirrors settings.Temperature.
type TemperatureSettingsJSON struct {
	Enabled       bool    `json:"enabled"`
	Target        float64 `json:"target"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	SafetyCutoff  float64 `json:"safety_cutoff"`
	SensorTimeout float64 `json:"sensor_timeout"`
	Interval      float64 `json:"check_interval"`
}

// HumiditySettingsJSON mirrors settings.Humidity.
type HumiditySettingsJSON struct {
	Enabled  bool    `json:"enabled"`
	Target   float64 `json:"target"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Interval float64 `json:"check_interval"`
}

func formatSettings(s settings.Settings) SettingsJSON {
	return SettingsJSON{
		Temperature: TemperatureSettingsJSON{
			Enabled:       s.Temperature.Enabled,
			Target:        s.Temperature.Target,
			Min:           s.Temperature.Min,
			Max:           s.Temperature.Max,
			SafetyCutoff:  s.Temperature.SafetyCutoff,
			SensorTimeout: s.Temperature.SensorTimeout.Seconds(),
			Interval:      s.Temperature.Interval.Seconds(),
		},
		Humidity: HumiditySettingsJSON{
			Enabled:  s.Humidity.Enabled,
			Target:   s.Humidity.Target,
			Min:      s.Humidity.Min,
			Max:      s.Humidity.Max,
			Interval: s.Humidity.Interval.Seconds(),
		},
	}
}

// SettingsUpdateJSON is the partial-update request body: absent keys keep
// their previous values.
type SettingsUpdateJSON struct {
	Temperature *TemperatureUpdateJSON `json:"temperature"`
	Humidity    *HumidityUpdateJSON    `json:"humidity"`
}

// TemperatureUpdateJSON holds optional thermal settings fields.
type TemperatureUpdateJSON struct {
	Enabled       *bool    `json:"enabled"`
	Target        *float64 `json:"target"`
	Min           *float64 `json:"min"`
	Max           *float64 `json:"max"`
	SafetyCutoff  *float64 `json:"safety_cutoff"`
	SensorTimeout *float64 `json:"sensor_timeout"`
	Interval      *float64 `json:"check_interval"`
}

// HumidityUpdateJSON holds optional humidity settings fields.
type HumidityUpdateJSON struct {
	Enabled  *bool    `json:"enabled"`
	Target   *float64 `json:"target"`
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Interval *float64 `json:"check_interval"`
}

// merge applies the non-nil fields of u onto cur and returns the result.
func (u SettingsUpdateJSON) merge(cur settings.Settings) settings.Settings {
	next := cur
	if t := u.Temperature; t != nil {
		if t.Enabled != nil {
			next.Temperature.Enabled = *t.Enabled
		}
		if t.Target != nil {
			next.Temperature.Target = *t.Target
		}
		if t.Min != nil {
			next.Temperature.Min = *t.Min
		}
		if t.Max != nil {
			next.Temperature.Max = *t.Max
		}
		if t.SafetyCutoff != nil {
			next.Temperature.SafetyCutoff = *t.SafetyCutoff
		}
		if t.SensorTimeout != nil {
			next.Temperature.SensorTimeout = secondsToDuration(*t.SensorTimeout)
		}
		if t.Interval != nil {
			next.Temperature.Interval = secondsToDuration(*t.Interval)
		}
	}
	if h := u.Humidity; h != nil {
		if h.Enabled != nil {
			next.Humidity.Enabled = *h.Enabled
		}
		if h.Target != nil {
			next.Humidity.Target = *h.Target
		}
		if h.Min != nil {
			next.Humidity.Min = *h.Min
		}
		if h.Max != nil {
			next.Humidity.Max = *h.Max
		}
		if h.Interval != nil {
			next.Humidity.Interval = secondsToDuration(*h.Interval)
		}
	}
	return next
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
