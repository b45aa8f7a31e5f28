// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package web serves the compass session over HTTP and WebSocket.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relabs-tech/qibla_compass/internal/adhkar"
	"github.com/relabs-tech/qibla_compass/internal/compass"
	"github.com/relabs-tech/qibla_compass/internal/hijri"
	"github.com/relabs-tech/qibla_compass/internal/location"
	"github.com/relabs-tech/qibla_compass/internal/metrics"
	"github.com/relabs-tech/qibla_compass/internal/qibla"
)

// Controller is the part of a compass session the HTTP API drives.
type Controller interface {
	Snapshot() compass.Snapshot
	Calibrate(ctx context.Context) error
	SetLocation(ctx context.Context, loc location.Location) error
}

// Server holds the HTTP handlers.
type Server struct {
	ctrl   Controller
	hub    *Hub
	logger *zap.Logger
	// StaticDir, when set, is served at /.
	StaticDir string
	// Adhkar backs /api/adhkar and /api/daily; nil answers 503.
	Adhkar *adhkar.Catalog
	now       func() time.Time
}

func NewServer(ctrl Controller, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Server{
		ctrl:   ctrl,
		hub:    hub,
		logger: logger.With(zap.String("component", "web")),
		now:    time.Now,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(jsonRecoverer(s.logger))
	r.Use(metrics.Middleware())

	r.Route("/api", func(r chi.Router) {
		r.Get("/compass", s.getCompass)
		r.Post("/calibrate", s.postCalibrate)
		r.Post("/location", s.postLocation)
		r.Get("/qibla", s.getQibla)
		r.Get("/hijri", s.getHijri)
		r.Get("/hijri/{year}/events", s.getHijriEvents)
		r.Get("/adhkar", s.getAdhkarCategories)
		r.Get("/adhkar/{category}", s.getAdhkarCategory)
		r.Get("/daily", s.getDaily)
	})
	r.Handle("/ws", s.hub)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.StaticDir)))
	}
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}

func (s *Server) getCompass(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Snapshot()
	switch snap.State {
	case compass.StateUninitialized, compass.StateAwaitingLocation:
		writeError(w, http.StatusServiceUnavailable, "location required")
		return
	case compass.StateTornDown:
		writeError(w, http.StatusServiceUnavailable, compass.ErrTornDown.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) postCalibrate(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Calibrate(r.Context()); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": compass.StateCalibrating.String()})
}

// locationRequest is the body of POST /api/location.
type locationRequest struct {
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
	Name      string   `json:"name"`
}

func (s *Server) postLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	loc := location.Location{
		GeoPoint: qibla.GeoPoint{Latitude: *req.Latitude, Longitude: *req.Longitude},
		Name:     req.Name,
		Source:   "user",
		Time:     s.now(),
	}
	if err := s.ctrl.SetLocation(r.Context(), loc); err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, loc)
}

// qiblaResponse is the body of GET /api/qibla.
type qiblaResponse struct {
	qibla.GeoPoint
	Bearing    float64 `json:"bearing"`
	DistanceKm float64 `json:"distance_km"`
}

func (s *Server) getQibla(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(w, http.StatusBadRequest, "lat and lon query parameters are required")
		return
	}
	p := qibla.GeoPoint{Latitude: lat, Longitude: lon}
	bearing, err := p.Bearing()
	if err != nil {
		s.handleError(w, err)
		return
	}
	dist, err := qibla.DistanceKm(p)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qiblaResponse{GeoPoint: p, Bearing: bearing, DistanceKm: dist})
}

// hijriResponse is the body of GET /api/hijri.
type hijriResponse struct {
	hijri.Date
	Gregorian string       `json:"gregorian"`
	Formatted string       `json:"formatted"`
	Leap      bool         `json:"leap_year"`
	Event     *hijri.Event `json:"event,omitempty"`
}

func (s *Server) getHijri(w http.ResponseWriter, r *http.Request) {
	t := s.now()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, v, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		t = parsed
	}
	d, err := hijri.Convert(t)
	if err != nil {
		s.handleError(w, err)
		return
	}
	resp := hijriResponse{
		Date:      d,
		Gregorian: t.Format(time.DateOnly),
		Formatted: d.String(),
		Leap:      hijri.IsLeapYear(d.Year),
	}
	if e, ok := hijri.EventFor(d); ok {
		resp.Event = &e
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getHijriEvents(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year must be an integer")
		return
	}
	events, err := hijri.YearlyEvents(year)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleError maps domain errors to HTTP statuses.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, qibla.ErrInvalidInput), errors.Is(err, hijri.ErrOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, compass.ErrNotActive), errors.Is(err, compass.ErrCalibrating):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, adhkar.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, compass.ErrTornDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// jsonRecoverer turns a handler panic into a JSON 500.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("request_id", middleware.GetReqID(r.Context())),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
