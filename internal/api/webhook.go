package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	lkauth "github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/events"
)

const (
	webhookParticipantJoined = "participant_joined"
	webhookRoomFinished      = "room_finished"
)

// liveKitWebhookHandler advances call records from LiveKit room events. The
// request is signed with the same key pair used for dispatch.
func (s *server) liveKitWebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !s.requireStore(w) {
			return
		}
		ctx := r.Context()

		creds := s.liveKitCredentials()
		if strings.TrimSpace(creds.APIKey) == "" || strings.TrimSpace(creds.APISecret) == "" {
			writeError(w, http.StatusServiceUnavailable, "LiveKit credentials missing in Settings")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
		event, err := webhook.ReceiveWebhookEvent(r, lkauth.NewSimpleKeyProvider(creds.APIKey, creds.APISecret))
		if err != nil {
			s.logger.WarnContext(ctx, "rejected livekit webhook", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
		s.options.Telemetry.RecordWebhookEvent(ctx, event.GetEvent())

		updated, err := s.applyWebhookEvent(ctx, event)
		if err != nil {
			s.internalError(w, r, "apply livekit webhook failed", err)
			return
		}
		if updated == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.logger.InfoContext(ctx, "call advanced by webhook",
			"call_id", updated.ID,
			"event", event.GetEvent(),
			"status", updated.Status,
		)
		writeJSON(w, http.StatusOK, updated)
	})
}

// applyWebhookEvent returns the updated call, or nil when the event does not
// concern a known call.
func (s *server) applyWebhookEvent(ctx context.Context, event *livekit.WebhookEvent) (*calls.Call, error) {
	roomName := strings.TrimSpace(event.GetRoom().GetName())
	if roomName == "" {
		return nil, nil
	}
	call, err := s.options.Store.GetCallByRoom(ctx, roomName)
	if errors.Is(err, calls.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	req, ok := webhookUpdate(event, call.Status)
	if !ok {
		return nil, nil
	}
	patch, err := calls.NewPatch(req, s.options.Pricing, s.now())
	if err != nil {
		return nil, err
	}
	updated, err := s.applyCallPatch(ctx, call.ID, patch)
	if errors.Is(err, calls.ErrNotFound) {
		return nil, nil
	}
	return updated, err
}

// webhookUpdate maps a room event onto the call lifecycle. A SIP participant
// joining means the callee answered; the room finishing fixes the duration
// and settles any call that has not already reached a terminal status.
func webhookUpdate(event *livekit.WebhookEvent, current calls.Status) (calls.UpdateRequest, bool) {
	var req calls.UpdateRequest
	switch event.GetEvent() {
	case webhookParticipantJoined:
		if event.GetParticipant().GetKind() != livekit.ParticipantInfo_SIP {
			return req, false
		}
		if current.Terminal() || current == calls.StatusInProgress {
			return req, false
		}
		status := string(calls.StatusInProgress)
		req.Status = &status
		return req, true
	case webhookRoomFinished:
		duration := int(event.GetCreatedAt() - event.GetRoom().GetCreationTime())
		if duration < 0 {
			duration = 0
		}
		req.DurationSeconds = &duration
		if !current.Terminal() {
			status := string(calls.StatusNoAnswer)
			if current == calls.StatusInProgress {
				status = string(calls.StatusCompleted)
			}
			req.Status = &status
		}
		return req, true
	default:
		return req, false
	}
}

func (s *server) eventsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		events.ServeWS(s.options.Events, s.logger).ServeHTTP(w, r)
	})
}
