// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// ReadinessCheck reports whether downstream dependencies are healthy. The
// consumer runtime is the caller, but the check itself is owned by
// whatever holds the bus/intelligence clients (cmd/enrichment-consumer).
type ReadinessCheck func() (ready bool, breakerState string, mode string)

// Server serves the three observability endpoints from §4.6: /health,
// /ready, /metrics.
type Server struct {
	metrics *Metrics
	ready   ReadinessCheck
	lag     func() map[string]int64

	connected int32 // atomic bool: bus connection established
	http      *http.Server
	log       *slog.Logger
}

// NewServer builds the observability HTTP server bound to addr (e.g.
// ":8900", per HEALTH_PORT default 8900).
func NewServer(addr string, metrics *Metrics, ready ReadinessCheck, lag func() map[string]int64, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{metrics: metrics, ready: ready, lag: lag, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	s.http = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// MarkConnected flips the liveness-adjacent "bus connected" flag used by
// /ready; set once Start() on the consumer Runtime succeeds.
func (s *Server) MarkConnected(connected bool) {
	var v int32
	if connected {
		v = 1
	}
	atomic.StoreInt32(&s.connected, v)
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("consumer.health_server.listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server, per §5's graceful-shutdown
// contract.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReady implements §4.6: ready iff consumer connected AND downstream
// intelligence service healthy AND circuit breaker closed.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	connected := atomic.LoadInt32(&s.connected) == 1
	ready, breakerState, mode := s.ready()
	ok := connected && ready

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready":           ok,
		"connected":       connected,
		"mode":            mode,
		"circuit_breaker": breakerState,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	_, breakerState, _ := s.ready()
	var perTopicLag map[string]int64
	if s.lag != nil {
		perTopicLag = s.lag()
	}
	snapshot := s.metrics.Snapshot(perTopicLag, breakerState)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

// DrainTimeout is §5's graceful-shutdown hard cap.
const DrainTimeout = 30 * time.Second
