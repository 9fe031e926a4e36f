package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estateloop/estateloop/pkg/audit"
	"github.com/estateloop/estateloop/pkg/identity"
	"github.com/estateloop/estateloop/pkg/middleware"
	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/permissions"
	"github.com/estateloop/estateloop/pkg/retry"
	"github.com/estateloop/estateloop/pkg/rolechange"
	"github.com/estateloop/estateloop/pkg/roles"
	"github.com/estateloop/estateloop/pkg/storage"
	syncpkg "github.com/estateloop/estateloop/pkg/sync"
)

// fakeVerifier maps raw tokens to subjects without signature checks.
type fakeVerifier struct {
	subjects map[string]string
}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (*oidc.IDToken, error) {
	subject, ok := f.subjects[raw]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &oidc.IDToken{Subject: subject}, nil
}

type testServer struct {
	handler  http.Handler
	store    *storage.MemoryStore
	provider *identity.FakeClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	provider := identity.NewFakeClient()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	provider.AddUser(&identity.UserRecord{
		ID:    "admin_1",
		Email: "admin@example.com",
		Metadata: map[string]interface{}{
			"role": "admin",
		},
	})
	provider.AddUser(&identity.UserRecord{
		ID:    "user_1",
		Email: "jane@example.com",
	})
	_, err := store.SaveUser(context.Background(), &storage.UserRecord{
		ExternalID: "admin_1",
		Email:      "admin@example.com",
		Role:       roles.RoleAdmin,
	})
	require.NoError(t, err)
	_, err = store.SaveUser(context.Background(), &storage.UserRecord{
		ExternalID: "user_1",
		Email:      "jane@example.com",
		Role:       roles.RoleUser,
	})
	require.NoError(t, err)

	verifier := &fakeVerifier{subjects: map[string]string{
		"admin-token": "admin_1",
		"user-token":  "user_1",
	}}

	policy := retry.NewPolicy(retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond}, identity.IsRetryable)
	synchronizer := syncpkg.NewSynchronizer(store, store, provider, logger, syncpkg.WithRetryPolicy(policy))
	cache, err := permissions.NewCache(128, time.Minute)
	require.NoError(t, err)
	engine := permissions.NewEngine(store, store, cache, logger)
	service := rolechange.NewService(store, synchronizer, audit.NewMemoryLogger(), logger,
		rolechange.WithPermissionCache(cache))

	server := NewServer(Deps{
		Authenticator: middleware.NewAuthenticator(verifier, provider, logger),
		Engine:        engine,
		Bundles:       store,
		RoleService:   service,
		Synchronizer:  synchronizer,
		Logger:        logger,
	})
	return &testServer{handler: server.Router(), store: store, provider: provider}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestSessionEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/me", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var session sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "admin_1", session.UserID)
	assert.Equal(t, roles.RoleAdmin, session.Role)
	assert.True(t, session.IsAdmin)
	assert.Equal(t, roles.DashboardAdmin, session.Dashboard)
}

func TestAuthenticationRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, "GET", "/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRejectNonAdmins(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/roles/change", "user-token", map[string]string{
		"user_id":  "user_1",
		"new_role": "support",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, "GET", "/permissions/available", "user-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoleChangeThroughRouter(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/roles/change", "admin-token", map[string]string{
		"user_id":  "user_1",
		"new_role": "support",
		"reason":   "joining support",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	record, err := ts.store.FindUserByExternalID(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, roles.RoleSupport, record.Role)
	assert.Equal(t, roles.RoleSupport, ts.provider.MetadataRole("user_1"))
}

func TestUnknownRouteIs404(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, "GET", "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/me", "admin-token", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	req.Header.Set("X-Request-ID", "upstream-id")
	echo := httptest.NewRecorder()
	ts.handler.ServeHTTP(echo, req)
	assert.Equal(t, "upstream-id", echo.Header().Get("X-Request-ID"))
}

func TestHealthRouter(t *testing.T) {
	checker := observability.NewHealthChecker(nil, nil)
	handler := HealthRouter(checker, prometheus.NewRegistry())

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
