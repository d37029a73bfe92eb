// Package web provides the HTTP API for the incubator daemon: status,
// settings, regulator control, and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/crandall/incubator/internal/mqtt"
	"github.com/crandall/incubator/internal/settings"
	"github.com/crandall/incubator/internal/supervisor"
)

// Server serves the incubator API over HTTP.
type Server struct {
	httpServer *http.Server
	sup        *supervisor.Supervisor
	mqttStatus mqtt.ConnectionStatus
}

// New creates a Server over the given supervisor. mqttStatus may be nil
// when the broker is disabled.
func New(addr string, sup *supervisor.Supervisor, mqttStatus mqtt.ConnectionStatus) *Server {
	s := &Server{sup: sup, mqttStatus: mqttStatus}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/settings", s.handleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/settings", s.handlePostSettings).Methods(http.MethodPost)
	r.HandleFunc("/api/control/{system}/{action}", s.handleControl).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/reset", s.handleReset).Methods(http.MethodGet, http.MethodPost)

	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(sup))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handlers.LoggingHandler(log.StandardLogger().Writer(), r),
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var connected *bool
	if s.mqttStatus != nil {
		c := s.mqttStatus.IsConnected()
		connected = &c
	}
	writeJSON(w, http.StatusOK, formatStatus(s.sup.Status(), connected, time.Now()))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, formatSettings(s.sup.Settings()))
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var update SettingsUpdateJSON
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeResult(w, http.StatusBadRequest, false, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	next := update.merge(s.sup.Settings())
	if err := s.sup.Apply(next); err != nil {
		writeResult(w, http.StatusBadRequest, false, fmt.Sprintf("error updating settings: %v", err))
		return
	}
	writeResult(w, http.StatusOK, true, "settings updated successfully")
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	system, action := vars["system"], vars["action"]

	var start bool
	switch action {
	case "start":
		start = true
	case "stop":
	default:
		writeResult(w, http.StatusBadRequest, false, "invalid action")
		return
	}

	var systems []supervisor.System
	switch system {
	case "temperature":
		systems = []supervisor.System{supervisor.SystemTemperature}
	case "humidity":
		systems = []supervisor.System{supervisor.SystemHumidity}
	case "all":
		systems = []supervisor.System{supervisor.SystemTemperature, supervisor.SystemHumidity}
	default:
		writeResult(w, http.StatusBadRequest, false, "invalid system")
		return
	}

	for _, sys := range systems {
		var err error
		if start {
			err = s.sup.Start(sys)
		} else {
			err = s.sup.Stop(sys)
		}
		if err != nil {
			writeResult(w, http.StatusConflict, false, fmt.Sprintf("error controlling %s: %v", sys, err))
			return
		}
	}

	// The enabled flags persist so a restart resumes the same systems.
	if err := s.persistEnabled(systems, start); err != nil {
		log.WithError(err).Warn("persist enabled flags")
	}
	writeResult(w, http.StatusOK, true, fmt.Sprintf("%s control %sed", system, action))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Apply(settings.Defaults()); err != nil {
		writeResult(w, http.StatusInternalServerError, false, fmt.Sprintf("error resetting settings: %v", err))
		return
	}
	if err := s.sup.Reset(); err != nil {
		writeResult(w, http.StatusInternalServerError, false, fmt.Sprintf("error resetting system: %v", err))
		return
	}
	writeResult(w, http.StatusOK, true, "system reset successfully")
}

func (s *Server) persistEnabled(systems []supervisor.System, enabled bool) error {
	next := s.sup.Settings()
	for _, sys := range systems {
		switch sys {
		case supervisor.SystemTemperature:
			next.Temperature.Enabled = enabled
		case supervisor.SystemHumidity:
			next.Humidity.Enabled = enabled
		}
	}
	return s.sup.Apply(next)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("encode response")
	}
}

func writeResult(w http.ResponseWriter, code int, success bool, message string) {
	writeJSON(w, code, ResultJSON{Success: success, Message: message})
}
