package permissions

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/estateloop/estateloop/pkg/httputil"
	"github.com/estateloop/estateloop/pkg/storage"
)

// Handlers exposes the permission engine and bundle management over HTTP.
type Handlers struct {
	engine  *Engine
	bundles storage.BundleStore
}

// NewHandlers creates the HTTP handlers for the permissions API.
func NewHandlers(engine *Engine, bundles storage.BundleStore) *Handlers {
	return &Handlers{
		engine:  engine,
		bundles: bundles,
	}
}

// RegisterRoutes attaches the permissions API to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/permissions/available", h.ListAvailable).Methods("GET")
	r.HandleFunc("/permissions/users/{id}", h.GetUserPermissions).Methods("GET")
	r.HandleFunc("/permissions/users/{id}/grant", h.Grant).Methods("POST")
	r.HandleFunc("/permissions/users/{id}/revoke", h.Revoke).Methods("POST")

	r.HandleFunc("/permissions/bundles", h.ListBundles).Methods("GET")
	r.HandleFunc("/permissions/bundles", h.CreateBundle).Methods("POST")
	r.HandleFunc("/permissions/bundles/{id}", h.GetBundle).Methods("GET")
	r.HandleFunc("/permissions/bundles/{id}", h.UpdateBundle).Methods("PUT")
	r.HandleFunc("/permissions/bundles/{id}", h.DeleteBundle).Methods("DELETE")

	r.HandleFunc("/permissions/users/{id}/bundles/{bundleID}", h.ApplyBundle).Methods("POST")
	r.HandleFunc("/permissions/users/{id}/bundles/{bundleID}", h.RemoveBundle).Methods("DELETE")
}

// ListAvailable returns the full permission vocabulary grouped by domain
// along with the per-role defaults.
func (h *Handlers) ListAvailable(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"permissions":      AllPermissions,
		"role_permissions": DefaultRolePermissions,
	})
}

// GetUserPermissions returns the user's effective permission set.
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	permissions, err := h.engine.GetUserPermissions(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"permissions": permissions,
	})
}

type grantPayload struct {
	Permission string `json:"permission"`
	Temporary  bool   `json:"temporary,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	GrantedBy  string `json:"granted_by,omitempty"`
}

// Grant adds an individual permission grant to a user.
func (h *Handlers) Grant(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var payload grantPayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if !httputil.RequireNonEmpty(w, payload.Permission, "permission") {
		return
	}

	req := GrantRequest{
		Permission: payload.Permission,
		Temporary:  payload.Temporary,
		ResourceID: payload.ResourceID,
		GrantedBy:  payload.GrantedBy,
	}
	if payload.Temporary && payload.TTLSeconds > 0 {
		ttl := time.Duration(payload.TTLSeconds) * time.Second
		req.TTL = &ttl
	}

	err := h.engine.GrantPermission(r.Context(), userID, req)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteNoContent(w)
}

// Revoke removes every grant of a permission from a user.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var payload struct {
		Permission string `json:"permission"`
	}
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if !httputil.RequireNonEmpty(w, payload.Permission, "permission") {
		return
	}

	err := h.engine.RevokePermission(r.Context(), userID, payload.Permission)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type bundlePayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

func (p bundlePayload) validate(w http.ResponseWriter) bool {
	if !httputil.RequireNonEmpty(w, p.Name, "name") {
		return false
	}
	if len(p.Permissions) == 0 {
		httputil.WriteBadRequest(w, "permissions must not be empty")
		return false
	}
	for _, permission := range p.Permissions {
		if !IsKnownPermission(permission) {
			httputil.WriteBadRequest(w, "unknown permission: "+permission)
			return false
		}
	}
	return true
}

// ListBundles returns all bundle definitions.
func (h *Handlers) ListBundles(w http.ResponseWriter, r *http.Request) {
	bundles, err := h.bundles.ListBundles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if bundles == nil {
		bundles = []*storage.Bundle{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"bundles": bundles})
}

// CreateBundle stores a new bundle definition.
func (h *Handlers) CreateBundle(w http.ResponseWriter, r *http.Request) {
	var payload bundlePayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if !payload.validate(w) {
		return
	}

	bundle := &storage.Bundle{
		Name:        payload.Name,
		Description: payload.Description,
		Permissions: payload.Permissions,
	}
	if err := h.bundles.CreateBundle(r.Context(), bundle); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, bundle)
}

// GetBundle returns one bundle definition.
func (h *Handlers) GetBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	bundle, err := h.bundles.GetBundle(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFoundError(w, "bundle not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, bundle)
}

// UpdateBundle replaces a bundle's definition. Grants already applied from
// the bundle are not touched.
func (h *Handlers) UpdateBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var payload bundlePayload
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	if !payload.validate(w) {
		return
	}

	bundle := &storage.Bundle{
		ID:          id,
		Name:        payload.Name,
		Description: payload.Description,
		Permissions: payload.Permissions,
	}
	err := h.bundles.UpdateBundle(r.Context(), bundle)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFoundError(w, "bundle not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, bundle)
}

// DeleteBundle removes a bundle definition. Grants already applied keep
// their bundle id but become standalone.
func (h *Handlers) DeleteBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	err := h.bundles.DeleteBundle(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFoundError(w, "bundle not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ApplyBundle grants a bundle's permissions to a user.
func (h *Handlers) ApplyBundle(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	bundleID, ok := httputil.ParsePathStringOrError(w, r, "bundleID")
	if !ok {
		return
	}

	var payload struct {
		GrantedBy string `json:"granted_by,omitempty"`
	}
	if r.ContentLength > 0 && !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}

	err := h.engine.ApplyBundle(r.Context(), userID, bundleID, payload.GrantedBy)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user or bundle not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveBundle strips a bundle's grants from a user.
func (h *Handlers) RemoveBundle(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	bundleID, ok := httputil.ParsePathStringOrError(w, r, "bundleID")
	if !ok {
		return
	}

	err := h.engine.RemoveBundle(r.Context(), userID, bundleID)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
