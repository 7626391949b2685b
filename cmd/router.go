package main

import (
	"net/http"

	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
)

func newRouter(metricsCollector *metrics.Collector, ready func() bool) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", metricsCollector.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return mux
}
