// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package api serves settlement-time lookups over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
	"github.com/luxfi/settlement/gapfill"
	"github.com/luxfi/settlement/lookup"
	"github.com/luxfi/settlement/resolver"
	"github.com/luxfi/settlement/stats"
	"github.com/luxfi/settlement/storage"
)

// Config for the API server
type Config struct {
	HTTPPort int
	Version  string
}

// Server provides the REST and WebSocket APIs
type Server struct {
	config   Config
	svc      *lookup.Service
	global   *stats.Table
	store    storage.Store
	snapshot Snapshot
	router   *mux.Router
	upgrader websocket.Upgrader
}

// Snapshot is the KV snapshot a dataset was loaded from
type Snapshot interface {
	RunID() (string, error)
	HealthCheck(ctx context.Context) (interface{}, error)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Message string `json:"message"`
}

// NewServer creates a new API server. store may be nil.
func NewServer(cfg Config, svc *lookup.Service, store storage.Store) *Server {
	s := &Server{
		config:   cfg,
		svc:      svc,
		global:   stats.Aggregate(svc.Dataset()),
		store:    store,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	s.setupRoutes()
	return s
}

// WithSnapshot reports snap in /health
func (s *Server) WithSnapshot(snap Snapshot) *Server {
	s.snapshot = snap
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/settlement", s.handleSettlement).Methods("GET")
	api.HandleFunc("/routes/{origin}/{destination}/{asset}", s.handleRoute).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/gaps", s.handleGaps).Methods("GET")
	api.HandleFunc("/runs", s.handleRuns).Methods("GET")

	// WebSocket
	api.HandleFunc("/query", s.handleQuery)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the router wrapped in middleware
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

// Run starts the API server and blocks until ctx is done
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("[API] Server starting on port %d", s.config.HTTPPort)
	log.Printf("[API] Lookup: http://localhost:%d/api/v1/settlement", s.config.HTTPPort)
	log.Printf("[API] WebSocket: ws://localhost:%d/api/v1/query", s.config.HTTPPort)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP router for testing
func (s *Server) Router() *mux.Router {
	return s.router
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Message: message})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	s.writeError(w, statusFor(err), err.Error())
}

// statusFor maps lookup failures onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, lookup.ErrRouteNotFound),
		errors.Is(err, lookup.ErrBucketNotFound),
		errors.Is(err, resolver.ErrAssetNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bucket.ErrUnknownBucket),
		errors.Is(err, bucket.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	d := s.svc.Dataset()
	resp := map[string]interface{}{
		"status":  "ok",
		"routes":  d.Len(),
		"bins":    d.BinCount(),
		"version": s.config.Version,
	}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["storage"] = err.Error()
		} else {
			resp["storage"] = string(s.store.Backend())
		}
	}
	if s.snapshot != nil {
		if _, err := s.snapshot.HealthCheck(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["snapshot"] = err.Error()
		} else {
			resp["snapshot"] = "ok"
		}
		if runID, err := s.snapshot.RunID(); err == nil {
			resp["snapshot_run"] = runID
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := lookup.Query{
		Origin:      q.Get("origin"),
		Destination: q.Get("destination"),
		Asset:       q.Get("asset"),
		Amount:      q.Get("amount"),
	}
	if query.Origin == "" || query.Destination == "" {
		s.writeError(w, http.StatusBadRequest, "origin and destination are required")
		return
	}

	res, err := s.svc.Lookup(query)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// RouteResponse lists every bin of one route
type RouteResponse struct {
	Origin      string                      `json:"origin"`
	Destination string                      `json:"destination"`
	Asset       string                      `json:"asset"`
	Bins        map[string]dataset.BinStats `json:"bins"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	route, err := s.svc.Route(lookup.Query{
		Origin:      vars["origin"],
		Destination: vars["destination"],
		Asset:       vars["asset"],
	})
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	resp := RouteResponse{
		Origin:      route.Key.Origin,
		Destination: route.Key.Destination,
		Asset:       route.Key.Asset,
		Bins:        make(map[string]dataset.BinStats, len(route.Bins)+len(route.Extra)),
	}
	for b, st := range route.Bins {
		resp.Bins[b.String()] = st
	}
	for label, st := range route.Extra {
		resp.Bins[label] = st
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	d := s.svc.Dataset()
	generated := 0
	methods := make(map[dataset.Method]int)
	for _, route := range d.Routes() {
		for _, st := range route.Bins {
			if st.Generated {
				generated++
				methods[st.Method]++
			}
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"routes":    d.Len(),
		"bins":      d.BinCount(),
		"generated": generated,
		"methods":   methods,
		"buckets":   s.global.Summary(),
	})
}

func (s *Server) handleGaps(w http.ResponseWriter, r *http.Request) {
	gaps := gapfill.FindMissing(s.svc.Dataset())
	if gaps == nil {
		gaps = []gapfill.Gap{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": gaps})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "no store configured")
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": runs})
}
