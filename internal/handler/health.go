package handler

import (
	"encoding/json"
	"net/http"

	"github.com/callmedenchick/ledgerbridge/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	healthMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_bridge_health_status",
		Help: "Health status of the bridge (1 = healthy, 0 = unhealthy)",
	})
	readyMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_bridge_ready_status",
		Help: "Ready status of the bridge (1 = ready, 0 = not ready)",
	})
)

// HealthHandler answers liveness probes on the metrics port.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	log := log.WithField("prefix", "HealthHandler")
	log.Debug("health check request received")

	healthMetric.Set(1)
	writeStatus(w, "ok")
}

// ReadyHandler reports whether the journal backend is reachable.
func ReadyHandler(journal storage.Journal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := log.WithField("prefix", "ReadyHandler")
		log.Debug("readiness check request received")

		if !CheckReady(journal) {
			http.Error(w, "Journal not ready", http.StatusServiceUnavailable)
			return
		}
		writeStatus(w, "ready")
	}
}

// CheckReady runs the journal health check and updates the ready gauge.
func CheckReady(journal storage.Journal) bool {
	if err := journal.HealthCheck(); err != nil {
		log.WithField("prefix", "CheckReady").Errorf("journal connection error: %v", err)
		readyMetric.Set(0)
		return false
	}
	readyMetric.Set(1)
	return true
}

func writeStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": status}); err != nil {
		log.WithField("prefix", "writeStatus").Errorf("failed to encode response: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
