// internal/handlers/http.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tmchess/tmchess/internal/game"
)

// HealthHandler answers liveness probes.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// StatsHandler reports a point-in-time snapshot of server occupancy.
func StatsHandler(logger *logrus.Logger, co *game.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(co.Snapshot()); err != nil {
			logger.Warnf("Stats encode: %v", err)
		}
	}
}
