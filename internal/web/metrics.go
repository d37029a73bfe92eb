package web

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crandall/incubator/internal/supervisor"
)

// collector exposes the supervisor snapshot as Prometheus metrics. Each
// scrape takes one fresh snapshot, so no background updater is needed.
type collector struct {
	sup *supervisor.Supervisor

	temperature   *prometheus.Desc
	humidity      *prometheus.Desc
	actuator      *prometheus.Desc
	safetyFlag    *prometheus.Desc
	running       *prometheus.Desc
	targetTemp    *prometheus.Desc
	targetHum     *prometheus.Desc
	safetyLatched *prometheus.Desc
}

func newCollector(sup *supervisor.Supervisor) *collector {
	return &collector{
		sup: sup,
		temperature: prometheus.NewDesc(
			"incubator_temperature_fahrenheit",
			"Current enclosure temperature (°F); absent while the sensor is failing.",
			nil, nil),
		humidity: prometheus.NewDesc(
			"incubator_humidity_percent",
			"Current relative humidity (%RH); absent while the sensor is failing.",
			nil, nil),
		actuator: prometheus.NewDesc(
			"incubator_actuator_on",
			"Whether an actuator channel is energized (1) or off (0).",
			[]string{"actuator"}, nil),
		safetyFlag: prometheus.NewDesc(
			"incubator_thermal_flag",
			"Thermal escalation flags (1 while active).",
			[]string{"flag"}, nil),
		running: prometheus.NewDesc(
			"incubator_regulator_running",
			"Whether a regulator control loop is live.",
			[]string{"system"}, nil),
		targetTemp: prometheus.NewDesc(
			"incubator_temperature_target_fahrenheit",
			"Configured temperature target (°F).",
			nil, nil),
		targetHum: prometheus.NewDesc(
			"incubator_humidity_target_percent",
			"Configured humidity target (%RH).",
			nil, nil),
		safetyLatched: prometheus.NewDesc(
			"incubator_safety_latched",
			"Whether the hardware overheat latch is triggered.",
			nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.temperature
	ch <- c.humidity
	ch <- c.actuator
	ch <- c.safetyFlag
	ch <- c.running
	ch <- c.targetTemp
	ch <- c.targetHum
	ch <- c.safetyLatched
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.sup.Status()

	if st.Temperature.CurrentTemp != nil {
		ch <- prometheus.MustNewConstMetric(c.temperature, prometheus.GaugeValue, *st.Temperature.CurrentTemp)
	}
	if st.Humidity.CurrentHumidity != nil {
		ch <- prometheus.MustNewConstMetric(c.humidity, prometheus.GaugeValue, *st.Humidity.CurrentHumidity)
	}

	ch <- prometheus.MustNewConstMetric(c.actuator, prometheus.GaugeValue, boolGauge(st.Temperature.Heater1On), "heater1")
	ch <- prometheus.MustNewConstMetric(c.actuator, prometheus.GaugeValue, boolGauge(st.Temperature.Heater2On), "heater2")
	ch <- prometheus.MustNewConstMetric(c.actuator, prometheus.GaugeValue, boolGauge(st.Humidity.HumidifierOn), "humidifier")

	ch <- prometheus.MustNewConstMetric(c.safetyFlag, prometheus.GaugeValue, boolGauge(st.Temperature.SafetyTriggered), "safety_cutoff")
	ch <- prometheus.MustNewConstMetric(c.safetyFlag, prometheus.GaugeValue, boolGauge(st.Temperature.SensorFailure), "sensor_failure")
	ch <- prometheus.MustNewConstMetric(c.safetyFlag, prometheus.GaugeValue, boolGauge(st.Temperature.OverheatTriggered), "overheat")

	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolGauge(st.Temperature.Running), "temperature")
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolGauge(st.Humidity.Running), "humidity")

	ch <- prometheus.MustNewConstMetric(c.targetTemp, prometheus.GaugeValue, st.Temperature.Config.Target)
	ch <- prometheus.MustNewConstMetric(c.targetHum, prometheus.GaugeValue, st.Humidity.Config.Target)
	ch <- prometheus.MustNewConstMetric(c.safetyLatched, prometheus.GaugeValue, boolGauge(st.SafetyLatched))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
