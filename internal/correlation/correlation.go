// Package correlation carries a per-request identifier through contexts,
// headers and log lines.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	HeaderName = "X-Calldesk-Correlation-ID"
	maxIDLen   = 128
)

type contextKey struct{}

// inboundHeaders are checked in order when a request arrives without our own
// header, so IDs minted by a proxy in front of the service are reused.
var inboundHeaders = []string{HeaderName, "X-Request-ID", "X-Correlation-ID"}

// EnsureRequest returns req with a correlation ID on its context and header,
// reusing an existing one when present.
func EnsureRequest(req *http.Request) (*http.Request, string) {
	if req == nil {
		return nil, ""
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if id, ok := FromContext(req.Context()); ok {
		req.Header.Set(HeaderName, id)
		return req, id
	}

	id := FromHeaders(req.Header)
	if id == "" {
		id = NewID()
	}
	req = req.WithContext(WithContext(req.Context(), id))
	req.Header.Set(HeaderName, id)
	return req, id
}

func WithContext(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	normalized := normalizeID(id)
	if normalized == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, _ := ctx.Value(contextKey{}).(string)
	if value == "" {
		return "", false
	}
	return value, true
}

func FromHeaders(headers http.Header) string {
	for _, name := range inboundHeaders {
		if id := normalizeID(headers.Get(name)); id != "" {
			return id
		}
	}
	return ""
}

func NewID() string {
	return "corr-" + uuid.NewString()
}

func normalizeID(raw string) string {
	value := strings.TrimSpace(raw)
	if len(value) > maxIDLen {
		value = value[:maxIDLen]
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return ""
		}
	}
	return value
}
