package control

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/crandall/incubator/internal/relay"
	"github.com/crandall/incubator/internal/sensor"
)

// DefaultHumidityInterval is the humidity control loop period. Humidity
// moves slowly, so the loop runs at half the thermal rate.
const DefaultHumidityInterval = 10 * time.Second

// HumidityStatus is a lock-consistent snapshot of the humidity regulator.
type HumidityStatus struct {
	Running         bool
	State           State
	CurrentHumidity *float64
	CurrentTemp     *float64
	Config          HumidityConfig
	HumidifierOn    bool
	LastReadingTime time.Time
}

// Humidity regulates enclosure humidity with a single humidifier channel.
// It is the single-actuator analog of Thermal without the escalation
// states: a failed reading just skips the cycle.
type Humidity struct {
	proxy  *sensor.Proxy
	bank   *relay.Bank
	notify Notifier

	mu      sync.Mutex
	cfg     HumidityConfig
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	state           State
	currentHumidity *float64
	currentTemp     *float64
	humidifierOn    bool
	lastReading     time.Time
}

// NewHumidity creates a humidity regulator. The config must validate.
func NewHumidity(proxy *sensor.Proxy, bank *relay.Bank, cfg HumidityConfig, notify Notifier) (*Humidity, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Humidity{
		proxy:  proxy,
		bank:   bank,
		notify: notify,
		cfg:    cfg,
		state:  StateIdle,
	}, nil
}

// Start spawns the control loop.
func (h *Humidity) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHumidityInterval
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrAlreadyRunning
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	go h.run(interval, h.stopCh, h.doneCh)

	log.WithFields(log.Fields{
		"target": h.cfg.Target,
		"min":    h.cfg.Min,
		"max":    h.cfg.Max,
	}).Info("humidity regulator started")
	return nil
}

// Stop signals the worker, waits up to StopTimeout, then forces the
// humidifier off regardless of whether the worker exited.
func (h *Humidity) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrNotRunning
	}
	h.running = false
	close(h.stopCh)
	done := h.doneCh
	h.mu.Unlock()

	select {
	case <-done:
	case <-time.After(StopTimeout):
		log.Warn("humidity worker did not exit in time, forcing humidifier off anyway")
	}

	h.forceHumidifierOff(time.Now())

	h.mu.Lock()
	h.state = StateIdle
	h.mu.Unlock()

	log.Info("humidity regulator stopped")
	return nil
}

// Running reports whether a control loop is live.
func (h *Humidity) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// UpdateConfig validates and atomically swaps the configuration.
func (h *Humidity) UpdateConfig(cfg HumidityConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	return nil
}

// Config returns the active configuration.
func (h *Humidity) Config() HumidityConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

// Status returns a point-in-time snapshot.
func (h *Humidity) Status() HumidityStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HumidityStatus{
		Running:         h.running,
		State:           h.state,
		CurrentHumidity: h.currentHumidity,
		CurrentTemp:     h.currentTemp,
		Config:          h.cfg,
		HumidifierOn:    h.humidifierOn,
		LastReadingTime: h.lastReading,
	}
}

func (h *Humidity) run(interval time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.tick(time.Now())

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			h.tick(now)
		}
	}
}

func (h *Humidity) tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("humidity tick panicked: %v", r)
			h.forceHumidifierOff(now)
		}
	}()

	for _, e := range h.step(now) {
		if h.notify != nil {
			h.notify(e)
		}
	}
}

func (h *Humidity) step(now time.Time) []Event {
	reading, readErr := h.proxy.Read(now)

	h.mu.Lock()
	defer h.mu.Unlock()

	// See the matching guard in Thermal.step: a tick abandoned by a timed
	// out Stop must not touch the humidifier Stop forced off.
	if stopRequested(h.stopCh) {
		return nil
	}

	var events []Event

	h.lastReading = now
	if readErr != nil {
		// A bad sample skips the cycle; the humidifier holds its state.
		h.currentHumidity = nil
		h.currentTemp = nil
		log.WithError(readErr).Warn("invalid humidity reading, skipping cycle")
		return nil
	}
	hum, temp := reading.Humidity, reading.TempF
	h.currentHumidity = &hum
	h.currentTemp = &temp

	band := Band{Min: h.cfg.Min, Target: h.cfg.Target, Max: h.cfg.Max}
	want := band.Evaluate(hum) != LevelOff

	if want != h.humidifierOn {
		var err error
		if want {
			err = h.bank.TurnOn(relay.ChannelHumidifier)
		} else {
			err = h.bank.TurnOff(relay.ChannelHumidifier)
		}
		if err != nil {
			log.WithError(err).Warn("apply humidifier")
		} else {
			h.humidifierOn = want
			typ := EventHumidifierOff
			if want {
				typ = EventHumidifierOn
			}
			events = append(events, Event{Time: now, Type: typ, System: "humidity", Value: hum})
		}
	}

	if h.humidifierOn {
		h.state = StateHumidifying
	} else {
		h.state = StateHolding
	}
	return events
}

func (h *Humidity) forceHumidifierOff(now time.Time) {
	h.mu.Lock()
	if err := h.bank.TurnOff(relay.ChannelHumidifier); err != nil {
		log.WithError(err).Error("force off humidifier")
	}
	fire := h.humidifierOn
	h.humidifierOn = false
	val := deref(h.currentHumidity)
	h.mu.Unlock()

	if fire && h.notify != nil {
		h.notify(Event{Time: now, Type: EventHumidifierOff, System: "humidity", Value: val})
	}
}
