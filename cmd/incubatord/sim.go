package main

import (
	"context"
	"sync"

	"github.com/crandall/incubator/internal/relay"
	"github.com/crandall/incubator/internal/sensor"
)

// simDriver is a toy enclosure model for running the daemon without
// hardware. Temperature and humidity drift toward ambient and respond to
// whatever the relay fake currently has energized, so the control loops
// exhibit their real on/off cycling.
type simDriver struct {
	out *relay.FakeOutput

	mu       sync.Mutex
	tempF    float64
	humidity float64
}

const (
	simAmbientTempF    = 72.0
	simAmbientHumidity = 40.0

	simHeaterGain     = 0.8  // °F per read per energized heater
	simHumidifierGain = 1.5  // %RH per read while humidifying
	simTempLoss       = 0.04 // fraction of the gap to ambient lost per read
	simHumidityLoss   = 0.03
)

func newSimDriver(out *relay.FakeOutput) *simDriver {
	return &simDriver{
		out:      out,
		tempF:    simAmbientTempF,
		humidity: simAmbientHumidity,
	}
}

func (d *simDriver) Read(ctx context.Context) (sensor.Reading, error) {
	if err := ctx.Err(); err != nil {
		return sensor.Reading{}, err
	}

	states := d.out.StatesSnapshot()

	d.mu.Lock()
	defer d.mu.Unlock()

	if states[relay.ChannelHeater1] {
		d.tempF += simHeaterGain
	}
	if states[relay.ChannelHeater2] {
		d.tempF += simHeaterGain
	}
	if states[relay.ChannelHumidifier] {
		d.humidity += simHumidifierGain
	}
	d.tempF -= (d.tempF - simAmbientTempF) * simTempLoss
	d.humidity -= (d.humidity - simAmbientHumidity) * simHumidityLoss

	return sensor.Reading{
		TempF:    d.tempF,
		TempC:    (d.tempF - 32.0) * 5.0 / 9.0,
		Humidity: d.humidity,
	}, nil
}

func (d *simDriver) Reconnect() error { return nil }

func (d *simDriver) Close() error { return nil }
