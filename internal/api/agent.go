package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/persona"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/preview"
)

type agentResponse struct {
	SystemPrompt     string    `json:"system_prompt"`
	InitialGreeting  string    `json:"initial_greeting"`
	FallbackGreeting string    `json:"fallback_greeting"`
	PromptTokens     int       `json:"prompt_tokens"`
	UpdatedAt        time.Time `json:"updated_at,omitzero"`
}

type previewRequest struct {
	Message string `json:"message"`
}

func toAgentResponse(p persona.Persona) agentResponse {
	return agentResponse{
		SystemPrompt:     p.SystemPrompt,
		InitialGreeting:  p.InitialGreeting,
		FallbackGreeting: p.FallbackGreeting,
		PromptTokens:     persona.CountTokens(p.SystemPrompt),
		UpdatedAt:        p.UpdatedAt,
	}
}

func (s *server) agentHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.options.Persona == nil {
			writeError(w, http.StatusServiceUnavailable, "persona store is not configured")
			return
		}

		switch r.Method {
		case http.MethodGet:
			current, err := s.options.Persona.Get()
			if err != nil {
				s.internalError(w, r, "load persona failed", err)
				return
			}
			writeJSON(w, http.StatusOK, toAgentResponse(current))
		case http.MethodPost:
			var patch persona.Patch
			if err := decodeJSONBody(w, r, &patch); err != nil {
				writeDecodeError(w, err)
				return
			}
			if patch.Empty() {
				writeError(w, http.StatusBadRequest, "no persona fields to update")
				return
			}
			saved, err := s.options.Persona.Update(patch)
			if errors.Is(err, persona.ErrInvalid) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if err != nil {
				s.internalError(w, r, "save persona failed", err)
				return
			}
			s.logger.InfoContext(r.Context(), "persona saved", "path", s.options.Persona.Path())
			writeJSON(w, http.StatusOK, toAgentResponse(saved))
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	})
}

func (s *server) agentTemplatesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		templates, err := persona.Templates()
		if err != nil {
			s.internalError(w, r, "load persona templates failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
	})
}

func (s *server) agentPreviewHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if s.options.Persona == nil || s.options.Settings == nil {
			writeError(w, http.StatusServiceUnavailable, "persona preview is not configured")
			return
		}

		var req previewRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}

		llm := s.options.Settings.LLMCredentials()
		client, err := preview.New(preview.Options{
			BaseURL:   s.options.LLM.BaseURL,
			APIKey:    llm.APIKey,
			Model:     llm.Model,
			MaxTokens: s.options.LLM.MaxTokens,
			Timeout:   s.options.LLM.Timeout,
			Transport: s.options.Telemetry.WrapHTTPTransport(nil),
			Prices:    s.options.Pricing.Prices,
		})
		if errors.Is(err, preview.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "LLM API key missing in Settings")
			return
		}
		if err != nil {
			s.internalError(w, r, "build preview client failed", err)
			return
		}

		current, err := s.options.Persona.Get()
		if err != nil {
			s.internalError(w, r, "load persona failed", err)
			return
		}
		result, err := client.Preview(r.Context(), current, req.Message)
		switch {
		case errors.Is(err, preview.ErrEmptyMessage), errors.Is(err, persona.ErrInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			s.logger.WarnContext(r.Context(), "persona preview failed", "error", err)
			writeError(w, http.StatusBadGateway, "llm request failed")
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}
