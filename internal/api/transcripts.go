package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/events"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/pathutil"
)

type transcriptResponse struct {
	CallID     int64                   `json:"call_id"`
	Transcript []calls.TranscriptEntry `json:"transcript"`
}

type addTranscriptRequest struct {
	Speaker string `json:"speaker"`
	Message string `json:"message"`
}

func (s *server) transcriptsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		segments, _ := pathutil.Tail(r.URL.Path, "/api/transcripts")
		if len(segments) != 1 {
			http.NotFound(w, r)
			return
		}
		callID, ok := parseID(segments[0])
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid call id")
			return
		}
		if !s.requireStore(w) {
			return
		}

		ctx := r.Context()
		switch r.Method {
		case http.MethodGet:
			if _, err := s.options.Store.GetCall(ctx, callID); err != nil {
				if errors.Is(err, calls.ErrNotFound) {
					writeError(w, http.StatusNotFound, "call not found")
					return
				}
				s.internalError(w, r, "get call failed", err)
				return
			}
			entries, err := s.options.Store.ListTranscript(ctx, callID)
			if err != nil {
				s.internalError(w, r, "list transcript failed", err)
				return
			}
			if entries == nil {
				entries = []calls.TranscriptEntry{}
			}
			writeJSON(w, http.StatusOK, transcriptResponse{CallID: callID, Transcript: entries})
		case http.MethodPost:
			var req addTranscriptRequest
			if err := decodeJSONBody(w, r, &req); err != nil {
				writeDecodeError(w, err)
				return
			}
			message := strings.TrimSpace(req.Message)
			if message == "" {
				writeError(w, http.StatusBadRequest, "Message is required")
				return
			}
			speaker := strings.TrimSpace(req.Speaker)
			if speaker == "" {
				speaker = "unknown"
			}

			entry := &calls.TranscriptEntry{CallID: callID, Speaker: speaker, Message: message}
			if err := s.options.Store.AddTranscript(ctx, entry); err != nil {
				if errors.Is(err, calls.ErrNotFound) {
					writeError(w, http.StatusNotFound, "call not found")
					return
				}
				s.recordWriteFailure(ctx, "add_transcript", err)
				s.internalError(w, r, "add transcript failed", err)
				return
			}
			s.options.Events.Publish(events.Event{Type: events.TypeTranscriptAdded, Data: entry})
			writeJSON(w, http.StatusCreated, map[string]int64{"transcript_id": entry.ID})
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	})
}
