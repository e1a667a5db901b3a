package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/auth"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/dispatch"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/events"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/pathutil"
)

// Dispatch outcomes, recorded on calls.dispatched_total.
const (
	outcomeDispatched         = "dispatched"
	outcomeInvalidPhone       = "invalid_phone"
	outcomeMissingCredentials = "missing_credentials"
	outcomeLimited            = "limited"
	outcomeDispatchFailed     = "dispatch_failed"
	outcomeStoreFailed        = "store_failed"
)

type placeCallRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type placeCallResponse struct {
	CallID      int64  `json:"call_id"`
	DispatchID  string `json:"dispatch_id"`
	RoomName    string `json:"room_name"`
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

type callListResponse struct {
	Items []*calls.Call `json:"items"`
	Count int          `json:"count"`
}

func (s *server) placeCallHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !s.requireStore(w) {
			return
		}
		ctx := r.Context()
		telemetry := s.options.Telemetry

		var req placeCallRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		phone, err := dispatch.ValidatePhone(req.PhoneNumber)
		if err != nil {
			telemetry.RecordCallDispatched(ctx, outcomeInvalidPhone)
			writeError(w, http.StatusBadRequest, dispatch.PhoneError(err))
			return
		}

		creds := s.liveKitCredentials()
		if !creds.Complete() || s.options.Dispatchers == nil {
			telemetry.RecordCallDispatched(ctx, outcomeMissingCredentials)
			writeError(w, http.StatusInternalServerError, dispatch.ErrMissingCredentials.Error())
			return
		}

		limited, err := s.options.Limiter.Check(ctx, callerKey(r))
		if err != nil {
			s.internalError(w, r, "dispatch limit check failed", err)
			return
		}
		if limited != nil {
			telemetry.RecordCallDispatched(ctx, outcomeLimited)
			if limited.RetryAfterSeconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
			}
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": limited.Message,
				"code":  limited.Code,
			})
			return
		}

		dispatcher, err := s.options.Dispatchers(creds)
		if err != nil {
			s.options.Limiter.Release(callerKey(r))
			telemetry.RecordCallDispatched(ctx, outcomeMissingCredentials)
			s.logger.ErrorContext(ctx, "build dispatcher failed", "error", err)
			writeError(w, http.StatusInternalServerError, dispatch.ErrMissingCredentials.Error())
			return
		}

		roomName := dispatch.RoomName(phone, nil)
		result, err := dispatcher.Dispatch(ctx, dispatch.Request{
			PhoneNumber: phone,
			RoomName:    roomName,
			AgentName:   s.options.AgentName,
		})
		if err != nil {
			s.options.Limiter.Release(callerKey(r))
			telemetry.RecordCallDispatched(ctx, outcomeDispatchFailed)
			s.logger.ErrorContext(ctx, "agent dispatch failed", "room", roomName, "error", err)
			writeError(w, http.StatusBadGateway, fmt.Sprintf("dispatch failed: %v", err))
			return
		}

		call := &calls.Call{
			PhoneNumber: phone,
			RoomName:    result.RoomName,
			DispatchID:  result.DispatchID,
			Status:      calls.StatusDialing,
		}
		if err := s.options.Store.CreateCall(ctx, call); err != nil {
			telemetry.RecordCallDispatched(ctx, outcomeStoreFailed)
			s.recordWriteFailure(ctx, "create_call", err)
			s.internalError(w, r, "record dispatched call failed", err)
			return
		}
		if err := s.options.Store.TouchContact(ctx, phone, call.CreatedAt); err != nil {
			s.logger.WarnContext(ctx, "touch contact failed", "error", err)
		}

		telemetry.RecordCallDispatched(ctx, outcomeDispatched)
		s.options.Events.Publish(events.Event{Type: events.TypeCallCreated, Data: call})
		s.logger.InfoContext(ctx, "call dispatched", "call_id", call.ID, "room", call.RoomName, "dispatch_id", call.DispatchID)

		writeJSON(w, http.StatusOK, placeCallResponse{
			CallID:      call.ID,
			DispatchID:  call.DispatchID,
			RoomName:    call.RoomName,
			PhoneNumber: phone,
			Message:     "Calling " + phone + "...",
		})
	})
}

func (s *server) callsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if !s.requireStore(w) {
			return
		}

		query := r.URL.Query()
		var filter calls.CallFilter
		if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = limit
		}
		if raw := strings.TrimSpace(query.Get("status")); raw != "" {
			status, err := calls.ParseStatus(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			filter.Status = status
		}

		items, err := s.options.Store.ListCalls(r.Context(), filter)
		if err != nil {
			s.internalError(w, r, "list calls failed", err)
			return
		}
		if items == nil {
			items = []*calls.Call{}
		}
		writeJSON(w, http.StatusOK, callListResponse{Items: items, Count: len(items)})
	})
}

func (s *server) callDetailHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		segments, _ := pathutil.Tail(r.URL.Path, "/api/calls")
		if len(segments) != 1 {
			http.NotFound(w, r)
			return
		}
		id, ok := parseID(segments[0])
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid call id")
			return
		}
		if !s.requireStore(w) {
			return
		}

		switch r.Method {
		case http.MethodGet:
			call, err := s.options.Store.GetCall(r.Context(), id)
			if errors.Is(err, calls.ErrNotFound) {
				writeError(w, http.StatusNotFound, "call not found")
				return
			}
			if err != nil {
				s.internalError(w, r, "get call failed", err)
				return
			}
			writeJSON(w, http.StatusOK, call)
		case http.MethodPut:
			s.handleUpdateCall(w, r, id)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut)
		}
	})
}

func (s *server) handleUpdateCall(w http.ResponseWriter, r *http.Request, id int64) {
	var req calls.UpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	patch, err := calls.NewPatch(req, s.options.Pricing, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.applyCallPatch(r.Context(), id, patch)
	if errors.Is(err, calls.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "update call failed", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// applyCallPatch writes patch and fans the result out to metrics and live
// subscribers.
func (s *server) applyCallPatch(ctx context.Context, id int64, patch calls.Patch) (*calls.Call, error) {
	updated, err := s.options.Store.UpdateCall(ctx, id, patch)
	if err != nil {
		if !errors.Is(err, calls.ErrNotFound) {
			s.recordWriteFailure(ctx, "update_call", err)
		}
		return nil, err
	}
	if patch.Status != nil && patch.Status.Terminal() {
		s.options.Telemetry.RecordCallCost(ctx, string(updated.Status), updated.TotalCostUSD)
	}
	s.options.Events.Publish(events.Event{Type: events.TypeCallUpdated, Data: updated})
	return updated, nil
}

func (s *server) recordWriteFailure(ctx context.Context, operation string, err error) {
	s.options.Telemetry.RecordStoreWriteFailure(ctx, operation, calls.ClassifyWriteError(err))
}

func (s *server) liveKitCredentials() dispatch.Credentials {
	if s.options.Settings == nil {
		return dispatch.Credentials{}
	}
	lk := s.options.Settings.LiveKitCredentials()
	return dispatch.Credentials{URL: lk.URL, APIKey: lk.APIKey, APISecret: lk.APISecret}
}

// callerKey identifies who is placing a call for rate limiting: the API key
// when auth is on, otherwise the client address.
func callerKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.KeyID != "" {
		return "key:" + identity.KeyID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
