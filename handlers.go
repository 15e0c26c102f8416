package main

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"feedwatch/cache"
	"feedwatch/database"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode JSON response")
	}
}

// healthHandler reports database and cache reachability. The cache being
// down degrades service but does not fail the check.
func healthHandler(db *database.ServiceDB, store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		dbOK := db.Ping() == nil
		if !dbOK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"ok":       dbOK,
			"database": dbOK,
			"cache":    store.Ping(req.Context()),
		})
	}
}

// blockStatsHandler serves the per-domain blocking statistics: the
// summary plus all rows, or one domain's report with ?domain=.
func blockStatsHandler(db *database.ServiceDB) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if domain := req.URL.Query().Get("domain"); domain != "" {
			report, err := db.DomainReport(domain)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if report == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown domain"})
				return
			}
			writeJSON(w, http.StatusOK, report)
			return
		}

		summary, err := db.StatsSummary()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		all, err := db.LoadAllDomainStats()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"summary": summary,
			"domains": all,
		})
	}
}
