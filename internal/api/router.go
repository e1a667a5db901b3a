// Package api serves the dashboard pages, the JSON API and the LiveKit
// webhook.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/analytics"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/dispatch"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/events"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/limits"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/observability"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/persona"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/settings"
)

const (
	APIPrefix        = "/api"
	WebhookPrefix    = "/webhook"
	EventsPath       = APIPrefix + "/events"
	requestBodyLimit = 1 << 20
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errInvalidJSON  = errors.New("request body must be valid JSON")
)

// LLMOptions configure the persona preview client. The API key and model are
// read from settings on every request.
type LLMOptions struct {
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

type RouterOptions struct {
	AppVersion    string
	Store         calls.Store
	StorageDriver string
	StoragePath   string
	Pricing       cost.Config
	Settings      *settings.EnvFile
	Persona       *persona.FileStore
	Dispatchers   dispatch.Factory
	AgentName     string
	Limiter       *limits.DispatchLimiter
	Events        *events.Hub
	Telemetry     *observability.Runtime
	LLM           LLMOptions
	AuthHeader    string
	Logger        *slog.Logger
}

type server struct {
	options   RouterOptions
	costs     *analytics.CostService
	overview  *analytics.CallService
	startedAt time.Time
	now       func() time.Time
	logger    *slog.Logger
}

func NewRouter(options RouterOptions) http.Handler {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Events == nil {
		options.Events = events.NewHub(0)
	}
	if options.Pricing.Location == nil {
		options.Pricing.Location = time.Local
	}

	s := &server{
		options:   options,
		startedAt: time.Now().UTC(),
		now:       time.Now,
		logger:    options.Logger,
	}
	if options.Store != nil {
		s.costs = analytics.NewCostService(options.Store, options.Pricing)
		s.overview = analytics.NewCallService(options.Store, s.costs)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/health", s.healthHandler())
	mux.Handle("/api/status", s.statusHandler())
	mux.Handle("/api/call", s.placeCallHandler())
	mux.Handle("/api/calls", s.callsHandler())
	mux.Handle("/api/calls/", s.callDetailHandler())
	mux.Handle("/api/costs", s.costsHandler())
	mux.Handle("/api/analytics", s.analyticsHandler())
	mux.Handle("/api/contacts", s.contactsHandler())
	mux.Handle("/api/contacts/", s.contactDetailHandler())
	mux.Handle("/api/transcripts/", s.transcriptsHandler())
	mux.Handle("/api/settings", s.settingsHandler())
	mux.Handle("/api/agent", s.agentHandler())
	mux.Handle("/api/agent/templates", s.agentTemplatesHandler())
	mux.Handle("/api/agent/preview", s.agentPreviewHandler())
	mux.Handle(EventsPath, s.eventsHandler())
	mux.Handle("/webhook/livekit", s.liveKitWebhookHandler())
	mux.Handle("/", s.pagesHandler())

	return withCORS(mux, options.AuthHeader)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	methodNotAllowed(w, methods...)
	return false
}

func methodNotAllowed(w http.ResponseWriter, methods ...string) {
	w.Header().Set("Allow", strings.Join(append(methods, http.MethodOptions), ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// decodeJSONBody reads one JSON value into dst. An empty body leaves dst
// untouched.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r == nil || r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errBodyTooLarge
		}
		return errInvalidJSON
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errInvalidJSON
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *server) requireStore(w http.ResponseWriter) bool {
	if s.options.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "call store is not configured")
		return false
	}
	return true
}

func (s *server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.ErrorContext(r.Context(), msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func withCORS(next http.Handler, authHeader string) http.Handler {
	allowedHeaders := []string{"Content-Type", "Authorization", "X-Calldesk-Key"}
	customHeader := strings.TrimSpace(authHeader)
	if customHeader != "" {
		alreadyAllowed := false
		for _, header := range allowedHeaders {
			if strings.EqualFold(header, customHeader) {
				alreadyAllowed = true
				break
			}
		}
		if !alreadyAllowed {
			allowedHeaders = append(allowedHeaders, customHeader)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
