package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"translation-relay/models"
)

// Snapshotter reports the current message counters.
type Snapshotter interface {
	Snapshot() models.MetricsSnapshot
}

// Routes wires the relay's HTTP surface. gatherer may be nil, in which case
// the Prometheus endpoint is not mounted.
func Routes(ws *WSHandler, counters Snapshotter, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /connect/{user_id}", ws)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, counters.Snapshot())
	})
	if gatherer != nil {
		mux.Handle("GET /metrics/prometheus", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"message": "translation relay is running"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
