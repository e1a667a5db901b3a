package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/pathutil"
)

type contactRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Company     string `json:"company"`
	Notes       string `json:"notes"`
	Tags        string `json:"tags"`
}

func (c contactRequest) contact() *calls.Contact {
	return &calls.Contact{
		Name:        c.Name,
		PhoneNumber: c.PhoneNumber,
		Company:     c.Company,
		Notes:       c.Notes,
		Tags:        c.Tags,
	}
}

type contactListResponse struct {
	Items []*calls.Contact `json:"items"`
	Count int             `json:"count"`
}

func (s *server) contactsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireStore(w) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			items, err := s.options.Store.ListContacts(r.Context(), strings.TrimSpace(r.URL.Query().Get("search")))
			if err != nil {
				s.internalError(w, r, "list contacts failed", err)
				return
			}
			if items == nil {
				items = []*calls.Contact{}
			}
			writeJSON(w, http.StatusOK, contactListResponse{Items: items, Count: len(items)})
		case http.MethodPost:
			var req contactRequest
			if err := decodeJSONBody(w, r, &req); err != nil {
				writeDecodeError(w, err)
				return
			}
			contact := req.contact()
			if err := contact.Normalize(); err != nil {
				writeError(w, http.StatusBadRequest, "Name and phone number are required")
				return
			}
			if err := s.options.Store.CreateContact(r.Context(), contact); err != nil {
				s.writeContactWriteError(w, r, "create_contact", err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"contact_id": contact.ID,
				"message":    "Contact added!",
			})
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	})
}

func (s *server) contactDetailHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		segments, _ := pathutil.Tail(r.URL.Path, "/api/contacts")
		if len(segments) != 1 {
			http.NotFound(w, r)
			return
		}
		id, ok := parseID(segments[0])
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid contact id")
			return
		}
		if !s.requireStore(w) {
			return
		}

		switch r.Method {
		case http.MethodPut:
			var req contactRequest
			if err := decodeJSONBody(w, r, &req); err != nil {
				writeDecodeError(w, err)
				return
			}
			contact := req.contact()
			contact.ID = id
			if err := contact.Normalize(); err != nil {
				writeError(w, http.StatusBadRequest, "Name and phone number are required")
				return
			}
			if err := s.options.Store.UpdateContact(r.Context(), contact); err != nil {
				s.writeContactWriteError(w, r, "update_contact", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Contact updated!"})
		case http.MethodDelete:
			err := s.options.Store.DeleteContact(r.Context(), id)
			if errors.Is(err, calls.ErrNotFound) {
				writeError(w, http.StatusNotFound, "contact not found")
				return
			}
			if err != nil {
				s.recordWriteFailure(r.Context(), "delete_contact", err)
				s.internalError(w, r, "delete contact failed", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Contact deleted!"})
		default:
			methodNotAllowed(w, http.MethodPut, http.MethodDelete)
		}
	})
}

func (s *server) writeContactWriteError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	switch {
	case errors.Is(err, calls.ErrDuplicatePhone):
		writeError(w, http.StatusBadRequest, "Phone number already exists")
	case errors.Is(err, calls.ErrInvalidContact):
		writeError(w, http.StatusBadRequest, "Name and phone number are required")
	case errors.Is(err, calls.ErrNotFound):
		writeError(w, http.StatusNotFound, "contact not found")
	default:
		s.recordWriteFailure(r.Context(), operation, err)
		s.internalError(w, r, operation+" failed", err)
	}
}
