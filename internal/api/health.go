package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSec     int64  `json:"uptime_sec"`
	StorageDriver string `json:"storage_driver"`
	CallCount     int64  `json:"call_count"`
	DBSizeBytes   int64  `json:"db_size_bytes,omitempty"`
}

func (s *server) healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		callCount := int64(0)
		if s.costs != nil {
			if totals, err := s.costs.Window(r.Context(), cost.WindowAllTime); err == nil {
				callCount = totals.Calls
			}
		}

		dbSizeBytes := int64(0)
		if strings.EqualFold(s.options.StorageDriver, "sqlite") && s.options.StoragePath != "" {
			if info, err := os.Stat(s.options.StoragePath); err == nil {
				dbSizeBytes = info.Size()
			}
		}

		writeJSON(w, http.StatusOK, healthResponse{
			Status:        "ok",
			Version:       s.options.AppVersion,
			UptimeSec:     int64(time.Since(s.startedAt).Seconds()),
			StorageDriver: s.options.StorageDriver,
			CallCount:     callCount,
			DBSizeBytes:   dbSizeBytes,
		})
	})
}

func (s *server) statusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if s.options.Settings == nil {
			writeError(w, http.StatusServiceUnavailable, "settings are not configured")
			return
		}
		writeJSON(w, http.StatusOK, s.options.Settings.Status())
	})
}
