package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/roles"
	"github.com/estateloop/estateloop/pkg/storage"
)

func newTestRouter(t *testing.T) (*mux.Router, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	cache, err := NewCache(64, time.Minute)
	require.NoError(t, err)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	engine := NewEngine(store, store, cache, logger)

	router := mux.NewRouter()
	NewHandlers(engine, store).RegisterRoutes(router)
	return router, store
}

func doRequest(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListAvailablePermissions(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, "GET", "/permissions/available", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Permissions     map[string][]string `json:"permissions"`
		RolePermissions map[string][]string `json:"role_permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Permissions, "listings")
	assert.Contains(t, body.Permissions["roles"], PermRolesChange)

	require.Len(t, body.RolePermissions, len(roles.Hierarchy))
	assert.Contains(t, body.RolePermissions[string(roles.RoleAgent)], PermListingsCreate)
	assert.NotContains(t, body.RolePermissions[string(roles.RoleUser)], PermListingsCreate)
}

func TestGetUserPermissionsEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	_, err := store.SaveUser(context.Background(), &storage.UserRecord{
		ExternalID: "agent_1",
		Role:       roles.RoleAgent,
		Approved:   true,
	})
	require.NoError(t, err)

	rec := doRequest(t, router, "GET", "/permissions/users/agent_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Permissions, PermListingsCreate)
}

func TestGetUserPermissionsUnknownUser(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, "GET", "/permissions/users/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrantEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	_, err := store.SaveUser(ctx, &storage.UserRecord{ExternalID: "user_1", Role: roles.RoleUser})
	require.NoError(t, err)

	rec := doRequest(t, router, "POST", "/permissions/users/user_1/grant", map[string]interface{}{
		"permission": PermAnalyticsView,
		"granted_by": "admin_1",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	record, err := store.FindUserByExternalID(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, record.Grants, 1)
	assert.Equal(t, PermAnalyticsView, record.Grants[0].Permission)
}

func TestGrantEndpointRejectsUnknownPermission(t *testing.T) {
	router, store := newTestRouter(t)
	_, err := store.SaveUser(context.Background(), &storage.UserRecord{ExternalID: "user_1", Role: roles.RoleUser})
	require.NoError(t, err)

	rec := doRequest(t, router, "POST", "/permissions/users/user_1/grant", map[string]interface{}{
		"permission": "listings:launch",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBundleCRUDEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, "POST", "/permissions/bundles", map[string]interface{}{
		"name":        "premium-agent",
		"permissions": []string{PermListingsFeature, PermAnalyticsView},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created storage.Bundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = doRequest(t, router, "GET", "/permissions/bundles/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, "PUT", "/permissions/bundles/"+created.ID, map[string]interface{}{
		"name":        "premium-agent",
		"permissions": []string{PermListingsFeature},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, "DELETE", "/permissions/bundles/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, "GET", "/permissions/bundles/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateBundleRejectsUnknownPermission(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, "POST", "/permissions/bundles", map[string]interface{}{
		"name":        "bad",
		"permissions": []string{"listings:launch"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyBundleEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	_, err := store.SaveUser(ctx, &storage.UserRecord{ExternalID: "user_1", Role: roles.RoleUser})
	require.NoError(t, err)

	bundle := &storage.Bundle{Name: "analytics", Permissions: []string{PermAnalyticsView}}
	require.NoError(t, store.CreateBundle(ctx, bundle))

	rec := doRequest(t, router, "POST", "/permissions/users/user_1/bundles/"+bundle.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	record, err := store.FindUserByExternalID(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, record.Grants, 1)
	assert.Equal(t, bundle.ID, record.Grants[0].BundleID)

	rec = doRequest(t, router, "DELETE", "/permissions/users/user_1/bundles/"+bundle.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	record, err = store.FindUserByExternalID(ctx, "user_1")
	require.NoError(t, err)
	assert.Empty(t, record.Grants)
}
