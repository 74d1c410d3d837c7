package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemabase/schemabase/internal/middleware"
	"github.com/schemabase/schemabase/internal/platform"
)

type Server struct {
	mux          *http.ServeMux
	authService  *platform.AuthService
	directory    *platform.Directory
	registry     *platform.TenantRegistry
	grants       *platform.GrantStore
	engine       *platform.Engine
	orchestrator *platform.Orchestrator
	audit        *platform.AuditService
	platformAuth *middleware.PlatformAuth
	authLimiter  *middleware.RateLimiter // 5 req/s, burst 10 for the login endpoint
	apiLimiter   *middleware.RateLimiter // 30 req/s, burst 60 for everything else
	platformDB   *pgxpool.Pool
}

func New(
	authService *platform.AuthService,
	directory *platform.Directory,
	registry *platform.TenantRegistry,
	grants *platform.GrantStore,
	engine *platform.Engine,
	orchestrator *platform.Orchestrator,
	audit *platform.AuditService,
	platformDB *pgxpool.Pool,
) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		authService:  authService,
		directory:    directory,
		registry:     registry,
		grants:       grants,
		engine:       engine,
		orchestrator: orchestrator,
		audit:        audit,
		platformAuth: middleware.NewPlatformAuth(authService, directory),
		authLimiter:  middleware.NewRateLimiter(5, 10),
		apiLimiter:   middleware.NewRateLimiter(30, 60),
		platformDB:   platformDB,
	}

	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return securityHeaders(cors(s.mux))
}

// securityHeaders adds security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// HSTS — enable in production behind TLS
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxBody limits request body size to prevent DoS via large payloads.
func maxBody(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	// Health check with DB ping
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.platformDB.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": "database unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Break-glass login (no auth required, tightly rate-limited)
	s.mux.Handle("POST /platform/auth/token", s.authLimiter.Middleware(maxBody(http.HandlerFunc(s.handleLogin), 1<<20)))

	// Everything else requires a platform JWT
	authed := func(h http.HandlerFunc) http.Handler {
		return s.apiLimiter.Middleware(s.platformAuth.Middleware(maxBody(h, 1<<20)))
	}

	s.mux.Handle("GET /platform/auth/me", authed(s.handleMe))

	// Tenants
	s.mux.Handle("POST /platform/tenants", authed(s.handleCreateTenant))
	s.mux.Handle("GET /platform/tenants", authed(s.handleListTenants))
	s.mux.Handle("GET /platform/tenants/{schema}", authed(s.handleGetTenant))
	s.mux.Handle("PATCH /platform/tenants/{schema}/status", authed(s.handleSetTenantStatus))
	s.mux.Handle("DELETE /platform/tenants/{schema}", authed(s.handleDeleteTenant))

	// Access grants
	s.mux.Handle("POST /platform/access", authed(s.handleGrantAccess))
	s.mux.Handle("DELETE /platform/access", authed(s.handleRevokeAccess))
	s.mux.Handle("GET /platform/access/tenants/{schema}", authed(s.handleListTenantGrants))
	s.mux.Handle("GET /platform/access/principals/{id}", authed(s.handleListPrincipalGrants))

	// Authorization decisions
	s.mux.Handle("POST /platform/authorize", authed(s.handleAuthorize))

	// Platform admins
	s.mux.Handle("POST /platform/admins", authed(s.handlePromoteAdmin))
	s.mux.Handle("DELETE /platform/admins/{id}", authed(s.handleRevokeAdmin))
	s.mux.Handle("GET /platform/admins", authed(s.handleListAdmins))

	// Audit trail
	s.mux.Handle("GET /platform/audit", authed(s.handleListAudit))
}

// ---------- Auth handlers ----------

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req platform.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	resp, err := s.authService.Login(r.Context(), req)
	switch {
	case errors.Is(err, platform.ErrAccountLocked):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, platform.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	case err != nil:
		// Database outage is a 500, not a credentials problem.
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.GetPrincipalID(r)
	p, err := s.directory.GetPrincipal(r.Context(), principalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	role, err := s.directory.Role(r.Context(), principalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": p, "role": role})
}

// ---------- Tenant handlers ----------

type createTenantRequest struct {
	SchemaName  string `json:"schema_name"`
	DisplayName string `json:"display_name,omitempty"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetPrincipalID(r)
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	tenant, err := s.orchestrator.CreateTenant(r.Context(), actorID, req.SchemaName, req.DisplayName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	tenants, err := s.registry.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	tenant, err := s.registry.Get(r.Context(), r.PathValue("schema"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

type setStatusRequest struct {
	Status platform.TenantStatus `json:"status"`
}

func (s *Server) handleSetTenantStatus(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetPrincipalID(r)
	schema := r.PathValue("schema")
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var err error
	switch req.Status {
	case platform.StatusSuspended:
		err = s.orchestrator.SuspendTenant(r.Context(), actorID, schema)
	case platform.StatusActive:
		err = s.orchestrator.ActivateTenant(r.Context(), actorID, schema)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be active or suspended"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"schema_name": schema, "status": string(req.Status)})
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetPrincipalID(r)
	schema := r.PathValue("schema")

	report, err := s.orchestrator.DeleteTenant(r.Context(), actorID, schema)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if report.Partial() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

// ---------- Access grant handlers ----------

type grantRequest struct {
	PrincipalID  string               `json:"principal_id"`
	TenantSchema string               `json:"tenant_schema"`
	Level        platform.AccessLevel `json:"level"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
}

func (s *Server) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetPrincipalID(r)
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	grant, err := s.grants.Grant(r.Context(), actorID, req.PrincipalID, req.TenantSchema, req.Level, req.ExpiresAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

type revokeRequest struct {
	PrincipalID  string `json:"principal_id"`
	TenantSchema string `json:"tenant_schema"`
}

func (s *Server) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetPrincipalID(r)
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.grants.Revoke(r.Context(), actorID, req.PrincipalID, req.TenantSchema); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListTenantGrants(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	grants, err := s.grants.ListForTenant(r.Context(), r.PathValue("schema"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grants)
}

func (s *Server) handleListPrincipalGrants(w http.ResponseWriter, r *http.Request) {
	principalID := r.PathValue("id")
	// Principals may list their own grants; anyone else's requires admin.
	if principalID != middleware.GetPrincipalID(r) && !s.requireAdmin(w, r) {
		return
	}
	grants, err := s.grants.ListForPrincipal(r.Context(), principalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grants)
}

// ---------- Authorization handler ----------

type authorizeRequest struct {
	PrincipalID  string               `json:"principal_id,omitempty"`
	TenantSchema string               `json:"tenant_schema"`
	Level        platform.AccessLevel `json:"level"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.GetPrincipalID(r)
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	// Default to the caller; asking about another principal requires admin.
	principalID := req.PrincipalID
	if principalID == "" {
		principalID = callerID
	}
	if principalID != callerID && !s.requireAdmin(w, r) {
		return
	}

	decision, err := s.engine.Authorize(r.Context(), principalID, req.TenantSchema, req.Level)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// ---------- Admin handlers ----------

type promoteRequest struct {
	PrincipalID string        `json:"principal_id"`
	Role        platform.Role `json:"role"`
}

func (s *Server) handlePromoteAdmin(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetPrincipalID(r)
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rec, err := s.directory.Promote(r.Context(), actorID, req.PrincipalID, req.Role)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRevokeAdmin(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetPrincipalID(r)
	if err := s.directory.RevokeAdmin(r.Context(), actorID, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	admins, err := s.directory.ListAdmins(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, admins)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	entries, err := s.audit.List(r.Context(), page, perPage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------- Helpers ----------

// requireAdmin writes a 403 and returns false unless the caller holds an
// active admin record. Checked at call time on every request, never cached.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	isAdmin, err := s.directory.IsAdmin(r.Context(), middleware.GetPrincipalID(r))
	if err != nil {
		s.writeError(w, err)
		return false
	}
	if !isAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "platform admin access required"})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := platform.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Internal error", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
