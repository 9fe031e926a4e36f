package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estateloop/estateloop/pkg/roles"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(context.Background(), Config{BaseURL: server.URL})
}

func TestGetUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/users/user_123", r.URL.Path)
		json.NewEncoder(w).Encode(UserRecord{
			ID:        "user_123",
			FirstName: "Dana",
			LastName:  "Reyes",
			Email:     "dana@example.com",
			Metadata:  map[string]interface{}{"role": "agent", "approved": true},
		})
	})

	user, err := client.GetUser(context.Background(), "user_123")
	require.NoError(t, err)
	assert.Equal(t, "user_123", user.ID)
	assert.Equal(t, "Dana Reyes", user.DisplayName())
	assert.True(t, user.HasRole())

	resolved := user.Resolve()
	assert.Equal(t, roles.RoleAgent, resolved.Role)
	assert.True(t, resolved.Approved)
}

func TestGetUserNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetUser(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, CategoryNotFound, CategoryOf(err))
	assert.False(t, IsRetryable(err))
}

func TestGetUserRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetUser(context.Background(), "user_123")
	require.Error(t, err)
	assert.Equal(t, CategoryRateLimited, CategoryOf(err))
	assert.True(t, IsRetryable(err))
}

func TestGetUserServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetUser(context.Background(), "user_123")
	require.Error(t, err)
	assert.Equal(t, CategoryConnection, CategoryOf(err))
	assert.True(t, IsRetryable(err))
}

func TestGetUserConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // nothing listening anymore
	client := NewHTTPClient(context.Background(), Config{BaseURL: server.URL})

	_, err := client.GetUser(context.Background(), "user_123")
	require.Error(t, err)
	assert.Equal(t, CategoryConnection, CategoryOf(err))
	assert.True(t, IsRetryable(err))
}

func TestUpdateUserMetadata(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/users/user_123/metadata", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := client.UpdateUserMetadata(context.Background(), "user_123", MetadataUpdate{
		Role:     roles.RoleAgent,
		Approved: true,
		Extra:    map[string]interface{}{"agency": "northside"},
	})
	require.NoError(t, err)

	metadata, ok := got["public_metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "agent", metadata["role"])
	assert.Equal(t, true, metadata["approved"])
	assert.Equal(t, "northside", metadata["agency"])
}

func TestListUsers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "50", r.URL.Query().Get("offset"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []UserRecord{{ID: "u1"}, {ID: "u2"}},
		})
	})

	users, err := client.ListUsers(context.Background(), 25, 50)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].ID)
}

func TestCategoryOfUnknownError(t *testing.T) {
	assert.Equal(t, CategoryUnknown, CategoryOf(errors.New("boom")))
	assert.False(t, IsRetryable(errors.New("boom")))
}
