package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/estateloop/estateloop/pkg/httputil"
	"github.com/estateloop/estateloop/pkg/middleware"
	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/permissions"
	"github.com/estateloop/estateloop/pkg/rolechange"
	"github.com/estateloop/estateloop/pkg/roles"
	"github.com/estateloop/estateloop/pkg/storage"
	syncpkg "github.com/estateloop/estateloop/pkg/sync"
)

// Deps carries everything the server mounts. RateLimiter is optional; a
// nil limiter leaves the admin routes unthrottled (no redis deployments).
type Deps struct {
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Engine        *permissions.Engine
	Bundles       storage.BundleStore
	RoleService   *rolechange.Service
	Synchronizer  *syncpkg.Synchronizer
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// Server is the API server.
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer builds the router: public routes, an authenticated subrouter,
// and an admin subrouter carrying the role change and permission APIs.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,
	}

	s.router.Use(RequestID)
	s.router.Use(RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	authed := s.router.NewRoute().Subrouter()
	authed.Use(deps.Authenticator.Authenticate)
	authed.HandleFunc("/me", s.getSession).Methods("GET")

	admin := authed.NewRoute().Subrouter()
	admin.Use(middleware.RequireAdmin)
	if deps.RateLimiter != nil {
		admin.Use(deps.RateLimiter.Middleware)
	}

	rolechange.NewHandlers(deps.RoleService, deps.Synchronizer).RegisterRoutes(admin)
	permissions.NewHandlers(deps.Engine, deps.Bundles).RegisterRoutes(admin)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})

	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// sessionResponse is the caller's own resolved authorization state, the
// payload the frontend uses to pick a dashboard.
type sessionResponse struct {
	UserID    string          `json:"user_id"`
	Role      roles.Role      `json:"role"`
	Approved  bool            `json:"approved"`
	IsAdmin   bool            `json:"is_admin"`
	Dashboard roles.Dashboard `json:"dashboard"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, sessionResponse{
		UserID:    session.UserID,
		Role:      session.Identity.Role,
		Approved:  session.Identity.EffectiveApproval(),
		IsAdmin:   session.Identity.IsAdmin(),
		Dashboard: session.Dashboard(),
	})
}

// HealthRouter builds the handler served on the separate health port:
// liveness, readiness, and prometheus metrics.
func HealthRouter(checker *observability.HealthChecker, registry *prometheus.Registry) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", checker.Readiness).Methods("GET")
	r.HandleFunc("/health/live", checker.Liveness).Methods("GET")
	r.HandleFunc("/health/ready", checker.Readiness).Methods("GET")
	r.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	return r
}
