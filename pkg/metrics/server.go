package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter routes /metrics and /health
func NewRouter(m *Metrics, component string) *mux.Router {
	started := time.Now()
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"component": component,
			"uptime":    time.Since(started).Round(time.Second).String(),
		})
	}).Methods(http.MethodGet)
	return r
}

// NewServer builds, but does not start, the metrics HTTP server
func NewServer(addr string, m *Metrics, component string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(m, component),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
