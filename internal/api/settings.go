package api

import (
	"errors"
	"net/http"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/settings"
)

func (s *server) settingsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.options.Settings == nil {
			writeError(w, http.StatusServiceUnavailable, "settings are not configured")
			return
		}

		switch r.Method {
		case http.MethodGet:
			values, err := s.options.Settings.Resolved()
			if err != nil {
				s.internalError(w, r, "read settings failed", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"settings": settings.View(values)})
		case http.MethodPost:
			var changes map[string]string
			if err := decodeJSONBody(w, r, &changes); err != nil {
				writeDecodeError(w, err)
				return
			}
			if len(changes) == 0 {
				writeError(w, http.StatusBadRequest, "no settings to save")
				return
			}
			if err := s.options.Settings.Update(changes); err != nil {
				if errors.Is(err, settings.ErrUnknownKey) {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				s.internalError(w, r, "save settings failed", err)
				return
			}
			s.logger.InfoContext(r.Context(), "settings saved", "keys", len(changes))
			writeJSON(w, http.StatusOK, map[string]string{
				"message": "Settings saved successfully! Restart agent to apply changes.",
			})
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	})
}
