package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leapmux/leapmux/internal/coordination/session"
	"github.com/leapmux/leapmux/internal/logging"
	"github.com/leapmux/leapmux/internal/metrics"
)

// newAdminServer builds the coordinator's admin listener: Prometheus
// metrics, a liveness probe, and a human-readable agent roster,
// grounded on the teacher's hub.Server mux wrapping (metrics + logging
// middleware over a plain http.ServeMux), minus the ConnectRPC/h2c
// layer this protocol has no use for.
func newAdminServer(addr string, sess *session.Session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sess.Registry.List())
	})
	mux.HandleFunc("/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sess.Pending.List())
	})

	handler := logging.HTTPMiddleware(metrics.HTTPMiddleware(mux))

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
