package bvcurve

// An HTTP/JSON gateway to SweepControl, for clients that would rather not
// speak JSON-RPC.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// NewHTTPHandler returns a router exposing control at
// GET /status, GET /devices, POST /start and POST /stop.
// The body of /start is a JSON SweepConfig; omitted fields take their defaults.
func NewHTTPHandler(control *SweepControl) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		var status SweepStatus
		control.Status(nil, &status)
		writeJSON(w, status)
	})
	r.Get("/devices", func(w http.ResponseWriter, r *http.Request) {
		var devices []DeviceDescriptor
		if err := control.ListDevices(nil, &devices); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, devices)
	})
	r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
		cfg := DefaultSweepConfig()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var okay bool
		if err := control.Start(&cfg, &okay); err != nil {
			code := http.StatusConflict
			if errors.Is(err, ErrInvalidConfig) {
				code = http.StatusBadRequest
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		var okay bool
		if err := control.Stop(nil, &okay); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// RunHTTPServer serves NewHTTPHandler on porthttp, logging each request.
func RunHTTPServer(porthttp int, control *SweepControl) error {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount("/sweep", NewHTTPHandler(control))
	UpdateLogger.Printf("Sweep control available via HTTP at :%d/sweep", porthttp)
	return http.ListenAndServe(fmt.Sprintf(":%d", porthttp), root)
}
