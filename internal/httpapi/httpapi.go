package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"petshop/backend/internal/apperr"
	"petshop/backend/internal/domain"
	"petshop/backend/internal/logger"
	"petshop/backend/internal/metrics"
	"petshop/backend/internal/service"
)

const sessionCookie = "uid"

type Options struct {
	Service *service.Service
	Auth    *AuthManager
	Logger  *logger.Logger
	Metrics *metrics.HTTP
	// Gatherer backs GET /metrics. The endpoint is not mounted when nil.
	Gatherer      prometheus.Gatherer
	AllowedOrigin string
	CookieSecure  bool
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *logger.Logger
	metrics       *metrics.HTTP
	gatherer      prometheus.Gatherer
	allowedOrigin string
	cookieSecure  bool
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &API{
		service:       opts.Service,
		auth:          opts.Auth,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		gatherer:      opts.Gatherer,
		allowedOrigin: opts.AllowedOrigin,
		cookieSecure:  opts.CookieSecure,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestID, a.logRequests, a.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{a.allowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(securityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apperr.New(apperr.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(writeMethodNotAllowed)

	r.Get("/healthz", a.handleHealth)
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/auth/csrf-token", a.handleCSRFToken)

	r.Route("/user", func(r chi.Router) {
		r.With(a.limitLogins).Post("/login", a.handleLogin)
		r.Post("/logout", a.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))
			r.Post("/signup", a.handleSignup)
			r.Get("/", a.handleListUsers)
			r.Delete("/", a.handleDeleteUsers)
		})
	})

	r.Route("/inventory", func(r chi.Router) {
		r.Use(a.requireAuth(domain.RoleNormal, domain.RoleAdmin))
		r.Get("/", a.handleListInventory)
		r.Post("/", a.handleCreateInventory)
		r.Patch("/", a.handleUpdateInventory)
		r.With(a.requireAuth(domain.RoleAdmin)).Delete("/", a.handleDeleteInventory)
	})

	r.Route("/sales", func(r chi.Router) {
		r.Use(a.requireAuth(domain.RoleNormal, domain.RoleAdmin))
		r.Get("/", a.handleQuerySales)
		r.Post("/", a.handleRecordSales)
		r.Patch("/", a.handleModifySales)
		r.Delete("/", a.handleDeleteSales)
		r.With(a.requireAuth(domain.RoleAdmin)).Delete("/all", a.handleDeleteAllSales)
	})

	r.With(a.requireAuth(domain.RoleAdmin)).Get("/reports/sales", a.handleSalesReport)

	return r
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens from the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func decodeStrict(data []byte, dest any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validation("request body too large")
		}
		return nil, apperr.Wrap(apperr.CodeValidation, err, "failed to read request body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, apperr.Validation("request body is required")
	}
	return raw, nil
}

func decodeJSON(r *http.Request, dest any) error {
	raw, err := readBody(r)
	if err != nil {
		return err
	}
	return decodeStrict(raw, dest)
}

// decodeBatch accepts either a JSON array of T or a single T, which is
// treated as a batch of one.
func decodeBatch[T any](r *http.Request) ([]T, error) {
	raw, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if raw[0] == '[' {
		var batch []T
		if err := decodeStrict(raw, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	var one T
	if err := decodeStrict(raw, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

// decodeKeys accepts a bare string, an array of strings, or an object holding
// the array under field.
func decodeKeys(r *http.Request, field string) ([]string, error) {
	raw, err := readBody(r)
	if err != nil {
		return nil, err
	}
	switch raw[0] {
	case '"':
		var one string
		if err := decodeStrict(raw, &one); err != nil {
			return nil, err
		}
		return []string{one}, nil
	case '[':
		var many []string
		if err := decodeStrict(raw, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var wrapped map[string][]string
	if err := decodeStrict(raw, &wrapped); err != nil {
		return nil, err
	}
	keys, ok := wrapped[field]
	if !ok || len(wrapped) != 1 {
		return nil, apperr.Validation(fmt.Sprintf("request body must contain only %q", field))
	}
	return keys, nil
}

func writeMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorPayload{
		Code:    "METHOD_NOT_ALLOWED",
		Message: "method not allowed",
	}})
}

type errorPayload struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Details any         `json:"details,omitempty"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

// writeError translates err through the apperr metadata table. 5xx responses
// carry the public message only; the cause is logged.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Store(err, "unexpected error")
	}
	meta := apperr.MetadataFor(typed.Code())

	payload := errorPayload{Code: typed.Code(), Message: typed.Message()}
	if meta.HTTPStatus >= http.StatusInternalServerError {
		a.log.Error(r.Context(), "request failed", err)
		payload.Message = meta.PublicMessage
	} else if meta.DetailsAllowed {
		payload.Details = typed.Details()
	}
	if payload.Message == "" {
		payload.Message = meta.PublicMessage
	}
	writeJSON(w, meta.HTTPStatus, errorBody{Error: payload})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
