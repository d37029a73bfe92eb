// Command incubatord regulates incubator temperature and humidity on a
// Raspberry Pi: SHT30 sensor over I2C, an 8-channel relay board on GPIO,
// an HTTP API, and MQTT event publishing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/crandall/incubator/internal/mqtt"
	"github.com/crandall/incubator/internal/relay"
	"github.com/crandall/incubator/internal/sensor"
	"github.com/crandall/incubator/internal/settings"
	"github.com/crandall/incubator/internal/supervisor"
	"github.com/crandall/incubator/internal/web"
)

const sensorReadTimeout = 2 * time.Second

func main() {
	settingsPath := flag.String("settings", "/etc/incubator/settings.yaml", "Path to the settings file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "Log in JSON format")
	sim := flag.Bool("sim", false, "Run against simulated hardware (no I2C/GPIO)")
	printReading := flag.Bool("print-reading", false, "Read the sensor once, print, and exit")
	flag.Parse()

	if err := setupLogging(*logLevel, *logJSON); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := run(*settingsPath, *sim, *printReading); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func setupLogging(level string, jsonFormat bool) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(lvl)
	if jsonFormat {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func run(settingsPath string, sim, printReading bool) error {
	store, err := settings.Open(settingsPath)
	if err != nil {
		return err
	}
	cfg := store.Get()

	drv, out, err := openHardware(cfg.Hardware, sim)
	if err != nil {
		return fmt.Errorf("init hardware: %w", err)
	}
	proxy := sensor.NewProxy(drv, sensorReadTimeout)
	defer proxy.Close()

	bank := relay.NewBank(out)
	defer func() {
		if err := bank.AllOff(); err != nil {
			log.WithError(err).Error("final all off")
		}
		out.Close()
	}()

	if printReading {
		r, err := proxy.Read(time.Now())
		if err != nil {
			return fmt.Errorf("read sensor: %w", err)
		}
		fmt.Printf("%.2f°F  %.1f%%RH\n", r.TempF, r.Humidity)
		return nil
	}

	// Overheat interrupt line. The handler runs on the GPIO event
	// goroutine and forces the heaters off through the bank.
	if !sim {
		safety, err := relay.NewSafetyInput(cfg.Hardware.GPIODevice, relay.DefaultSafetyPin, bank)
		if err != nil {
			return fmt.Errorf("init safety input: %w", err)
		}
		defer safety.Close()
	}

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Enabled {
		real, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			// The daemon regulates fine without a broker; events resume
			// when it is reachable.
			log.WithError(err).Warn("mqtt unavailable, continuing without event publishing")
		} else {
			publisher = real
			mqttStatus = real
			defer real.Close()
		}
	}

	sup, err := supervisor.New(store, proxy, bank, publisher)
	if err != nil {
		return err
	}
	defer sup.StopAll()

	if publisher != nil {
		err := publisher.PublishSystem(mqtt.SystemEvent{
			Timestamp: time.Now(),
			Event:     "STARTUP",
			Status:    statusSnapshot(sup, mqttStatus),
			Retained:  true,
		})
		if err != nil {
			log.WithError(err).Warn("publish startup event")
		}
	}

	srv := web.New(cfg.Web.Listen, sup, mqttStatus)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server")
		}
	}()
	defer srv.Shutdown(context.Background())
	log.Infof("http api listening on %s", cfg.Web.Listen)

	if err := sup.StartEnabled(); err != nil {
		log.WithError(err).Error("start regulators")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	log.Infof("received %v, shutting down", s)

	if publisher != nil {
		err := publisher.PublishSystem(mqtt.SystemEvent{
			Timestamp: time.Now(),
			Event:     "SHUTDOWN",
			Reason:    signalName(s),
			Status:    statusSnapshot(sup, mqttStatus),
			Retained:  true,
		})
		if err != nil {
			log.WithError(err).Warn("publish shutdown event")
		}
	}
	return nil
}

// statusSnapshot serializes the full status document for lifecycle
// events. Lifecycle publishing is best effort, so a marshal failure just
// yields a bare envelope.
func statusSnapshot(sup *supervisor.Supervisor, mqttStatus mqtt.ConnectionStatus) []byte {
	payload, err := web.StatusPayload(sup, mqttStatus, time.Now())
	if err != nil {
		log.WithError(err).Warn("serialize status snapshot")
		return nil
	}
	return payload
}

// openHardware returns the sensor driver and relay output, real or
// simulated.
func openHardware(hw settings.Hardware, sim bool) (sensor.Driver, relay.Output, error) {
	if sim {
		log.Warn("running with simulated hardware")
		out := relay.NewFakeOutput()
		return newSimDriver(out), out, nil
	}

	drv, err := sensor.NewSHT30(hw.I2CDevice, uint16(hw.SensorAddr))
	if err != nil {
		return nil, nil, fmt.Errorf("open sensor: %w", err)
	}
	out, err := relay.NewGPIOOutput(hw.GPIODevice, relay.DefaultRelayPins)
	if err != nil {
		drv.Close()
		return nil, nil, fmt.Errorf("open relay board: %w", err)
	}
	return drv, out, nil
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
