package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/pathutil"
)

type Permission string

const (
	PermissionCallsRead      Permission = "calls:read"
	PermissionCallsWrite     Permission = "calls:write"
	PermissionSettingsManage Permission = "settings:manage"
)

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

const defaultHeaderName = "X-Calldesk-Key"

// Browsers cannot set headers on a WebSocket handshake, so the live feed
// carries the key as a subprotocol: this tag followed by the unpadded
// base64url token.
const WebSocketKeyProtocolTag = "calldesk.key."

const websocketProtocolHeader = "Sec-WebSocket-Protocol"

var ErrMissingKey = errors.New("missing api key")
var ErrInvalidKey = errors.New("invalid api key")

type KeyConfig struct {
	ID    string
	Token string
	Name  string
	Role  string
}

type Options struct {
	Enabled bool
	Header  string
	Keys    []KeyConfig
}

type Identity struct {
	KeyID string
	Name  string
	Role  string

	permissions map[Permission]struct{}
}

func (i *Identity) HasPermission(permission Permission) bool {
	if i == nil {
		return false
	}
	_, ok := i.permissions[permission]
	return ok
}

type Authorizer struct {
	enabled bool
	header  string
	keys    map[string]*Identity
}

func NewAuthorizer(options Options) (*Authorizer, error) {
	header := normalizeHeaderName(options.Header)
	if header == "" {
		header = defaultHeaderName
	}

	authorizer := &Authorizer{
		enabled: options.Enabled,
		header:  header,
		keys:    map[string]*Identity{},
	}
	if !options.Enabled {
		return authorizer, nil
	}
	if len(options.Keys) == 0 {
		return nil, errors.New("auth is enabled but no api keys are configured")
	}

	for _, key := range options.Keys {
		token := strings.TrimSpace(key.Token)
		if token == "" {
			return nil, errors.New("api key token cannot be empty")
		}
		tokenHash := hashToken(token)
		if _, exists := authorizer.keys[tokenHash]; exists {
			return nil, errors.New("duplicate api key token in auth config")
		}

		role := strings.ToLower(strings.TrimSpace(key.Role))
		if role == "" {
			role = RoleAdmin
		}
		authorizer.keys[tokenHash] = &Identity{
			KeyID:       strings.TrimSpace(key.ID),
			Name:        strings.TrimSpace(key.Name),
			Role:        role,
			permissions: permissionsForRole(role),
		}
	}

	return authorizer, nil
}

func (a *Authorizer) Enabled() bool {
	return a != nil && a.enabled
}

func (a *Authorizer) HeaderName() string {
	if a == nil || strings.TrimSpace(a.header) == "" {
		return defaultHeaderName
	}
	return a.header
}

func (a *Authorizer) Authenticate(r *http.Request) (*Identity, error) {
	if !a.Enabled() {
		return nil, nil
	}

	return a.authenticateToken(r.Header.Get(a.HeaderName()))
}

func (a *Authorizer) authenticateToken(raw string) (*Identity, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return nil, ErrMissingKey
	}

	identity, ok := a.keys[hashToken(token)]
	if !ok {
		return nil, ErrInvalidKey
	}
	return identity.clone(), nil
}

// DenyRecorder observes rejected requests. reason is a stable snake_case code.
type DenyRecorder func(r *http.Request, status int, reason string)

type MiddlewareOptions struct {
	APIPrefix     string
	WebhookPrefix string
	// WebSocketPath accepts the key as a subprotocol on upgrade requests.
	// Defaults to APIPrefix + "/events".
	WebSocketPath string
	OnDeny        DenyRecorder
}

// Middleware enforces key authentication on the JSON API. Pages, the health
// probe and webhooks (which carry their own signature) are never gated.
func Middleware(authorizer *Authorizer, options MiddlewareOptions, next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !authorizer.Enabled() {
		return next
	}

	apiPrefix := pathutil.NormalizePrefix(options.APIPrefix)
	if apiPrefix == "/" {
		apiPrefix = "/api"
	}
	webhookPrefix := pathutil.NormalizePrefix(options.WebhookPrefix)
	if webhookPrefix == "/" {
		webhookPrefix = "/webhook"
	}
	websocketPath := strings.TrimSpace(options.WebSocketPath)
	if websocketPath == "" {
		websocketPath = apiPrefix + "/events"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		permission, gated := requiredPermission(r.Method, r.URL.Path, apiPrefix, webhookPrefix)
		if !gated {
			next.ServeHTTP(w, r)
			return
		}
		deny := func(status int, reason, message string) {
			if options.OnDeny != nil {
				options.OnDeny(r, status, reason)
			}
			writeAuthError(w, status, message)
		}

		var identity *Identity
		var err error
		protocolKey, protocols, fromProtocol := "", []string(nil), false
		if r.URL.Path == websocketPath && isWebSocketUpgrade(r) {
			protocolKey, protocols, fromProtocol = splitWebSocketKey(r.Header.Values(websocketProtocolHeader))
		}
		if fromProtocol && strings.TrimSpace(r.Header.Get(authorizer.HeaderName())) == "" {
			identity, err = authorizer.authenticateToken(protocolKey)
		} else {
			identity, err = authorizer.Authenticate(r)
		}
		if err != nil {
			reason := "invalid_api_key"
			if errors.Is(err, ErrMissingKey) {
				reason = "missing_api_key"
			}
			deny(http.StatusUnauthorized, reason, "missing or invalid api key")
			return
		}
		if !identity.HasPermission(permission) {
			deny(http.StatusForbidden, "permission_denied", "api key does not have required permission")
			return
		}

		request := r.Clone(WithIdentity(r.Context(), identity))
		request.Header = r.Header.Clone()
		request.Header.Del(authorizer.HeaderName())
		if fromProtocol {
			request.Header.Del(websocketProtocolHeader)
			if len(protocols) > 0 {
				request.Header.Set(websocketProtocolHeader, strings.Join(protocols, ", "))
			}
		}
		next.ServeHTTP(w, request)
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

// splitWebSocketKey pulls the key entry out of the offered subprotocols and
// returns the rest so the key is never echoed back in the handshake.
func splitWebSocketKey(headerValues []string) (string, []string, bool) {
	var key string
	found := false
	var rest []string
	for _, value := range headerValues {
		for _, protocol := range strings.Split(value, ",") {
			protocol = strings.TrimSpace(protocol)
			if protocol == "" {
				continue
			}
			if encoded, ok := strings.CutPrefix(protocol, WebSocketKeyProtocolTag); ok {
				found = true
				if decoded, err := base64.RawURLEncoding.DecodeString(encoded); err == nil {
					key = string(decoded)
				}
				continue
			}
			rest = append(rest, protocol)
		}
	}
	return key, rest, found
}

func requiredPermission(method, path, apiPrefix, webhookPrefix string) (Permission, bool) {
	if isPreflight(method) {
		return "", false
	}
	if pathutil.HasPathPrefix(path, webhookPrefix) {
		return "", false
	}
	if !pathutil.HasPathPrefix(path, apiPrefix) {
		return "", false
	}
	if path == apiPrefix+"/health" {
		return "", false
	}

	if pathutil.HasPathPrefix(path, apiPrefix+"/settings") {
		return PermissionSettingsManage, true
	}
	if isReadMethod(method) {
		return PermissionCallsRead, true
	}
	if path == apiPrefix+"/agent" {
		return PermissionSettingsManage, true
	}
	return PermissionCallsWrite, true
}

func permissionsForRole(role string) map[Permission]struct{} {
	permissions := map[Permission]struct{}{}
	var granted []Permission
	switch role {
	case RoleAdmin:
		granted = []Permission{PermissionCallsRead, PermissionCallsWrite, PermissionSettingsManage}
	case RoleViewer:
		granted = []Permission{PermissionCallsRead}
	}
	for _, permission := range granted {
		permissions[permission] = struct{}{}
	}
	return permissions
}

func isReadMethod(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}

func isPreflight(method string) bool {
	return strings.EqualFold(strings.TrimSpace(method), http.MethodOptions)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func normalizeHeaderName(header string) string {
	value := strings.TrimSpace(header)
	if value == "" {
		return ""
	}
	return textproto.CanonicalMIMEHeaderKey(value)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.permissions = make(map[Permission]struct{}, len(i.permissions))
	for permission := range i.permissions {
		out.permissions[permission] = struct{}{}
	}
	return &out
}

type contextIdentityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, contextIdentityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(contextIdentityKey{}).(*Identity)
	return identity, ok && identity != nil
}
