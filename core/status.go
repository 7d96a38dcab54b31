package core

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// statusResponse is the GET /status payload.
type statusResponse struct {
	StabilityMargin float64          `json:"stability_margin"`
	ActivePolicy    string           `json:"active_policy"`
	RecoveryOpen    bool             `json:"recovery_open"`
	MTTRSeconds     float64          `json:"mttr_seconds"`
	Recoveries      int              `json:"recoveries"`
	Bandit          BanditStatistics `json:"bandit"`
}

// NewStatusRouter serves the observability API: GET /status, GET
// /metrics, POST /reset_metrics. Read-only apart from the reset, which
// clears counters and MTTR history but never touches policy state or an
// open recovery window.
func NewStatusRouter(loop *Loop) *mux.Router {
	log := logrus.WithField("component", "status")
	r := mux.NewRouter()

	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := loop.Metrics().Snapshot()
		resp := statusResponse{
			StabilityMargin: snap.StabilityMargin,
			ActivePolicy:    snap.ActivePolicy,
			RecoveryOpen:    loop.Tracker().OpenWindow() != nil,
			MTTRSeconds:     loop.Tracker().MTTR().Seconds(),
			Recoveries:      loop.Tracker().Recoveries(),
			Bandit:          loop.Bandit().Statistics(),
		}
		writeJSON(w, resp, log)
	}).Methods(http.MethodGet)

	r.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, loop.Metrics().Snapshot(), log)
	}).Methods(http.MethodGet)

	r.HandleFunc("/reset_metrics", func(w http.ResponseWriter, _ *http.Request) {
		loop.Metrics().Reset()
		loop.Tracker().ResetHistory()
		writeJSON(w, map[string]string{"status": "reset"}, log)
	}).Methods(http.MethodPost)

	return r
}

func writeJSON(w http.ResponseWriter, v any, log *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("writing status response")
	}
}
