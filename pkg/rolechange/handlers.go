package rolechange

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/estateloop/estateloop/pkg/httputil"
	"github.com/estateloop/estateloop/pkg/middleware"
	"github.com/estateloop/estateloop/pkg/roles"
	syncpkg "github.com/estateloop/estateloop/pkg/sync"
)

// Handlers exposes role changes and reconciliation over HTTP. All routes
// here are admin-gated by the router.
type Handlers struct {
	service      *Service
	synchronizer *syncpkg.Synchronizer
}

// NewHandlers creates the role change HTTP handlers.
func NewHandlers(service *Service, synchronizer *syncpkg.Synchronizer) *Handlers {
	return &Handlers{
		service:      service,
		synchronizer: synchronizer,
	}
}

// RegisterRoutes attaches the role change API to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/roles/change", h.ChangeRole).Methods("POST")
	r.HandleFunc("/roles/debug", h.Debug).Methods("GET")
	r.HandleFunc("/roles/sync-to-identity", h.SyncToIdentity).Methods("GET")
	r.HandleFunc("/roles/sync-from-identity", h.SyncFromIdentity).Methods("GET")
}

type changePayload struct {
	UserID   string `json:"user_id"`
	NewRole  string `json:"new_role"`
	Approved *bool  `json:"approved,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ChangeRole applies a role change on behalf of the session admin.
func (h *Handlers) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var payload changePayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if !httputil.RequireNonEmpty(w, payload.UserID, "user_id") {
		return
	}
	if !httputil.RequireNonEmpty(w, payload.NewRole, "new_role") {
		return
	}
	if !roles.IsValidRole(payload.NewRole) {
		httputil.WriteBadRequest(w, "unknown role: "+payload.NewRole)
		return
	}

	req := Request{
		UserID:   payload.UserID,
		NewRole:  roles.Role(payload.NewRole),
		Approved: payload.Approved,
		Reason:   payload.Reason,
	}
	if session, ok := middleware.SessionFromContext(r.Context()); ok {
		req.ActingAdmin = &session.Identity
		req.AdminID = session.UserID
	}

	result, err := h.service.ChangeUserRole(r.Context(), req)
	if err != nil {
		h.writeChangeError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) writeChangeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUserNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) {
		httputil.WriteJSON(w, invalid.StatusCode(), map[string]interface{}{
			"error":    invalid.Decision.Reason,
			"decision": invalid.Decision,
		})
		return
	}
	httputil.WriteInternalError(w, err)
}

// Debug returns a side-by-side drift report for a user.
func (h *Handlers) Debug(w http.ResponseWriter, r *http.Request) {
	userID := httputil.ParseQueryString(r, "user_id", "")
	if !httputil.RequireNonEmpty(w, userID, "user_id") {
		return
	}

	report, err := h.synchronizer.Drift(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

// SyncToIdentity pushes the database's role state to the provider.
func (h *Handlers) SyncToIdentity(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, syncpkg.DirectionDBWins)
}

// SyncFromIdentity adopts the provider's role state into the database.
func (h *Handlers) SyncFromIdentity(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, syncpkg.DirectionIdentityWins)
}

func (h *Handlers) runSync(w http.ResponseWriter, r *http.Request, direction syncpkg.Direction) {
	userID := httputil.ParseQueryString(r, "user_id", "")
	if !httputil.RequireNonEmpty(w, userID, "user_id") {
		return
	}

	result, err := h.synchronizer.SyncUser(r.Context(), userID, direction)
	if errors.Is(err, syncpkg.ErrNoProviderRole) {
		httputil.WriteConflict(w, err.Error())
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
