package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/useraudit/internal/core/dispatch"
	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/usecase"
)

type ctxKey string

const (
	timeFormat               = "2006-01-02T15:04:05.999999999Z07:00"
	principalCtxKey   ctxKey = "principal"
	maxJSONBodySize          = 1 << 20
	actorIDHeader            = "X-Actor-ID"
	defaultCORSMaxAge        = 300
)

type Config struct {
	CORSOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// Instrument records request counts and latencies when set.
	Instrument *HTTPMetrics
}

type Handler struct {
	users   *usecase.UserService
	audits  *usecase.AuditService
	auth    *usecase.AuthService
	log     *zap.Logger
	schemas *requestSchemas
	cfg     Config
}

func NewHandler(users *usecase.UserService, audits *usecase.AuditService, auth *usecase.AuthService, log *zap.Logger, cfg Config) (*Handler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	schemas, err := loadRequestSchemas()
	if err != nil {
		return nil, err
	}
	return &Handler{users: users, audits: audits, auth: auth, log: log.Named("http"), schemas: schemas, cfg: cfg}, nil
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	if h.cfg.Instrument != nil {
		r.Use(h.cfg.Instrument.Middleware)
	}
	if len(h.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", actorIDHeader},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         defaultCORSMaxAge,
		}))
	}

	r.Get("/healthz", h.healthz)
	if h.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.cfg.Metrics)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)

		pr.Post("/v1/users", h.createUser)
		pr.Get("/v1/users/{id}", h.getUser)
		pr.Patch("/v1/users/{id}", h.updateUser)
		pr.Put("/v1/users/{id}/role", h.changeRole)
		pr.Put("/v1/users/{id}/active", h.setActive)
		pr.Put("/v1/users/{id}/password", h.changePassword)

		pr.Post("/v1/auth/login", h.login)
		pr.Post("/v1/auth/logout", h.logout)
		pr.Post("/v1/auth/password-reset", h.requestPasswordReset)
		pr.Post("/v1/auth/password-reset/confirm", h.confirmPasswordReset)

		pr.Get("/v1/audit-logs", h.listAuditLogs)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAPIKey authenticates the API client, which fixes the tenant, and then
// resolves who acts: the user named by X-Actor-ID, or the client itself.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		apiKey, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		principal, err := h.auth.Principal(r.Context(), apiKey, r.Header.Get(actorIDHeader))
		if err != nil {
			h.fail(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalCtxKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func principalFromContext(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalCtxKey).(domain.Principal)
	return p
}

// decodeBody reads the request body, checks it against the named schema and
// fills dst. It writes the error response itself and reports false on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := h.schemas.decode(schema, raw, dst); err != nil {
		h.fail(w, r, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// fail maps an error to its HTTP status. Anything unrecognized is logged and
// reported as 500 without details.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var violation *SchemaViolation
	var queryErr *QueryError
	switch {
	case errors.As(err, &violation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body", "details": violation.Errors})
	case errors.As(err, &queryErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid query", "details": queryErr.Fields})
	case errors.Is(err, domain.ErrInvalidKey),
		errors.Is(err, domain.ErrInvalidFilter),
		errors.Is(err, domain.ErrInvalidCursor),
		errors.Is(err, domain.ErrInvalidUser),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrResetTokenInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usecase.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, usecase.ErrForbidden), errors.Is(err, domain.ErrInactiveUser):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		}
		var herr *dispatch.HandlerError
		if errors.As(err, &herr) {
			fields = append(fields, zap.String("event_kind", string(herr.Kind)), zap.String("event_id", herr.EventID))
		}
		h.log.Error("request failed", fields...)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
