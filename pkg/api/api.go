// Package api serves the probes over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/itohio/phx/pkg/calib"
	"github.com/itohio/phx/pkg/calstore"
	"github.com/itohio/phx/pkg/phx"
	"github.com/itohio/phx/pkg/sampler"
)

// Runner is the part of sampler.Runner the API uses.
type Runner interface {
	Names() []string
	Probe(name string) (sampler.Probe, bool)
	Latest(name string) (sampler.Reading, bool)
	History(name string) []sampler.Reading
	Trigger(name string) error
	Do(ctx context.Context, name string, fn func(ch *phx.Channel) error) error
	DoIdle(ctx context.Context, name string, fn func(ch *phx.Channel) error) error
	Each(ctx context.Context, fn func(name string, ch *phx.Channel) error) error
}

// Server holds the handlers.
type Server struct {
	runner  Runner
	cal     *calib.Calibrator
	metrics http.Handler
}

// New creates a server. metrics may be nil.
func New(r Runner, cal *calib.Calibrator, metrics http.Handler) *Server {
	return &Server{runner: r, cal: cal, metrics: metrics}
}

// Handler returns a router with every endpoint registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.LoadAPI(r)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods("GET")
	}
	return r
}

// LoadAPI registers the REST endpoints.
func (s *Server) LoadAPI(r *mux.Router) {
	sr := r.PathPrefix("/api").Subrouter()
	sr.HandleFunc("/probes", s.listProbes).Methods("GET")
	sr.HandleFunc("/probes/{name}", s.getProbe).Methods("GET")
	sr.HandleFunc("/probes/{name}/measure", s.measure).Methods("POST")
	sr.HandleFunc("/probes/{name}/trigger", s.trigger).Methods("POST")
	sr.HandleFunc("/probes/{name}/cycle", s.cancelCycle).Methods("DELETE")
	sr.HandleFunc("/probes/{name}/calibration", s.getCalibration).Methods("GET")
	sr.HandleFunc("/probes/{name}/calibration", s.putCalibration).Methods("PUT")
	sr.HandleFunc("/probes/{name}/calibration", s.resetCalibration).Methods("DELETE")
	sr.HandleFunc("/probes/{name}/calibration/{point}", s.capturePoint).Methods("POST")
	sr.HandleFunc("/temperature", s.getTemperature).Methods("GET")
	sr.HandleFunc("/temperature", s.putTemperature).Methods("PUT")
}

type probeStatus struct {
	Name      string            `json:"name"`
	Kind      phx.Kind          `json:"kind"`
	Unit      string            `json:"unit"`
	Input     int               `json:"input"`
	State     string            `json:"state"`
	Collected int               `json:"collected"`
	Interval  string            `json:"interval,omitempty"`
	Latest    *sampler.Reading  `json:"latest,omitempty"`
	History   []sampler.Reading `json:"history,omitempty"`
}

func (s *Server) status(ctx context.Context, name string) (probeStatus, error) {
	p, ok := s.runner.Probe(name)
	if !ok {
		return probeStatus{}, sampler.ErrUnknownProbe
	}
	st := probeStatus{
		Name: name,
		Kind: p.Request.Kind,
		Unit: p.Request.Kind.Unit(),
	}
	if p.Interval > 0 {
		st.Interval = p.Interval.String()
	}
	err := s.runner.Do(ctx, name, func(ch *phx.Channel) error {
		st.Input = ch.Input()
		st.State = ch.State().String()
		st.Collected = ch.Collected()
		return nil
	})
	if r, ok := s.runner.Latest(name); ok {
		st.Latest = &r
	}
	return st, err
}

func (s *Server) listProbes(w http.ResponseWriter, r *http.Request) {
	names := s.runner.Names()
	list := make([]probeStatus, 0, len(names))
	for _, name := range names {
		st, err := s.status(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		list = append(list, st)
	}
	writeJSON(w, http.StatusOK, list)
}

// getProbe includes the reading history. ?points=N decimates it to N entries.
func (s *Server) getProbe(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	st, err := s.status(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	points, _ := strconv.Atoi(r.URL.Query().Get("points"))
	st.History = sampler.Downsample(nil, s.runner.History(name), points)
	writeJSON(w, http.StatusOK, st)
}

type measurement struct {
	Probe string        `json:"probe"`
	Kind  phx.Kind      `json:"kind"`
	Value float64       `json:"value"`
	Unit  string        `json:"unit"`
	Error phx.ErrorKind `json:"error"`
}

// measure runs one cycle now. ?raw=true returns the averaged millivolts.
func (s *Server) measure(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.runner.Probe(name)
	if !ok {
		writeError(w, sampler.ErrUnknownProbe)
		return
	}
	req := p.Request
	req.Raw, _ = strconv.ParseBool(r.URL.Query().Get("raw"))

	m := measurement{Probe: name, Kind: req.Kind, Unit: req.Kind.Unit()}
	if req.Raw {
		m.Unit = "mV"
	}
	err := s.runner.DoIdle(r.Context(), name, func(ch *phx.Channel) error {
		var err error
		m.Value, m.Error, err = ch.Measure(r.Context(), req)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Trigger(mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) cancelCycle(w http.ResponseWriter, r *http.Request) {
	err := s.runner.Do(r.Context(), mux.Vars(r)["name"], func(ch *phx.Channel) error {
		ch.Cancel()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type calibrationStatus struct {
	Calibration phx.Calibration `json:"calibration"`
	Pending     calib.Pending   `json:"pending"`
}

func (s *Server) getCalibration(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	cal, err := s.cal.Get(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calibrationStatus{Calibration: cal, Pending: s.cal.Pending(name)})
}

func (s *Server) putCalibration(w http.ResponseWriter, r *http.Request) {
	var cal phx.Calibration
	if err := json.NewDecoder(r.Body).Decode(&cal); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := s.cal.Apply(r.Context(), mux.Vars(r)["name"], cal); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetCalibration(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.Reset(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type captureResult struct {
	Point phx.Point `json:"point"`
	Done  bool      `json:"done"`
}

func (s *Server) capturePoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	point, err := strconv.Atoi(vars["point"])
	if err != nil {
		writeError(w, calib.ErrPoint)
		return
	}
	var payload struct {
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Value == nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	start := time.Now()
	p, done, err := s.cal.Capture(r.Context(), vars["name"], point, *payload.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("api: %s point %d captured in %s", vars["name"], point, time.Since(start).Round(time.Millisecond))
	writeJSON(w, http.StatusOK, captureResult{Point: p, Done: done})
}

type temperature struct {
	Celsius      *float64 `json:"celsius,omitempty"`
	Compensation *bool    `json:"compensation,omitempty"`
}

func (s *Server) getTemperature(w http.ResponseWriter, r *http.Request) {
	var t phx.TemperatureState
	err := s.runner.Each(r.Context(), func(_ string, ch *phx.Channel) error {
		t = phx.TemperatureState{Celsius: ch.Temperature(), Enabled: ch.TemperatureCompensationEnabled()}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, temperature{Celsius: &t.Celsius, Compensation: &t.Enabled})
}

// putTemperature updates every probe. Fields left out are unchanged.
func (s *Server) putTemperature(w http.ResponseWriter, r *http.Request) {
	var t temperature
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if t.Celsius != nil && !phx.ValidTemperature(*t.Celsius) {
		http.Error(w, "temperature out of range", http.StatusBadRequest)
		return
	}
	err := s.runner.Each(r.Context(), func(_ string, ch *phx.Channel) error {
		if t.Celsius != nil {
			ch.SetTemperature(*t.Celsius)
		}
		if t.Compensation != nil {
			ch.EnableTemperatureCompensation(*t.Compensation)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, sampler.ErrUnknownProbe):
		code = http.StatusNotFound
	case errors.Is(err, phx.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, calstore.ErrInvalid), errors.Is(err, calib.ErrPoint):
		code = http.StatusBadRequest
	case errors.Is(err, phx.ErrCalibrationTimeout):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, sampler.ErrStopped):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusRequestTimeout
	}
	http.Error(w, err.Error(), code)
}
