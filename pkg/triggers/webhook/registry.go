// Package webhook keeps the routes of active webhook triggers and verifies the
// signatures of incoming requests.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/dukex/flowrule/pkg/ratelimit"
)

const signaturePrefix = "sha256="

var (
	ErrRouteExists      = errors.New("webhook route already registered")
	ErrRouteNotFound    = errors.New("webhook route not found")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrRateLimited      = errors.New("webhook rate limit exceeded")
)

// Route identifies a webhook endpoint inside a tenant.
type Route struct {
	TenantID string
	Path     string
	Method   string
}

// NewRoute normalizes path and method. The method defaults to POST.
func NewRoute(tenantID, path, method string) Route {
	if method == "" {
		method = http.MethodPost
	}

	return Route{
		TenantID: tenantID,
		Path:     "/" + strings.Trim(path, "/"),
		Method:   strings.ToUpper(method),
	}
}

func (r Route) String() string {
	return r.TenantID + " " + r.Method + " " + r.Path
}

type binding struct {
	triggerID string
	secret    string
}

// Registry maps routes to trigger ids.
type Registry struct {
	logger  *slog.Logger
	limiter *ratelimit.TenantLimiter

	mu     sync.RWMutex
	routes map[Route]binding
}

// NewRegistry limits each tenant to perSecond webhook requests with the given burst.
// A non-positive perSecond disables the limit.
func NewRegistry(logger *slog.Logger, perSecond float64, burst int) *Registry {
	return &Registry{
		logger:  logger.With("module", "webhook_registry"),
		limiter: ratelimit.NewTenantLimiter(perSecond, burst),
		routes:  map[Route]binding{},
	}
}

func (r *Registry) Register(route Route, triggerID, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.routes[route]; ok && existing.triggerID != triggerID {
		return fmt.Errorf("%w: %s is bound to trigger %s", ErrRouteExists, route, existing.triggerID)
	}

	r.routes[route] = binding{triggerID: triggerID, secret: secret}

	r.logger.Info("Webhook route registered", "route", route.String(), "trigger_id", triggerID)

	return nil
}

func (r *Registry) Unregister(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.routes, route)

	r.logger.Info("Webhook route unregistered", "route", route.String())
}

// Resolve returns the trigger bound to route after checking the signature of body.
// Routes without a secret accept any signature.
func (r *Registry) Resolve(route Route, body []byte, signature string) (string, error) {
	r.mu.RLock()
	bound, ok := r.routes[route]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRouteNotFound, route)
	}

	if bound.secret != "" && !Verify(bound.secret, body, signature) {
		return "", ErrInvalidSignature
	}

	return bound.triggerID, nil
}

// Allow applies the per tenant ingress limit.
func (r *Registry) Allow(tenantID string) error {
	if !r.limiter.Allow(tenantID) {
		return ErrRateLimited
	}

	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.routes)
}

// Sign returns the hex HMAC-SHA256 of body, prefixed with "sha256=".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body. The "sha256=" prefix is optional.
func Verify(secret string, body []byte, signature string) bool {
	given, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil || len(given) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(given, mac.Sum(nil))
}
