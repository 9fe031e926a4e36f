package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, 200, map[string]string{"status": "ok"})
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 500, errors.New("boom"))
	assert.Equal(t, 500, rec.Code)
	assert.JSONEq(t, `{"error":"boom"}`, rec.Body.String())
}

func TestWriteForbidden(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteForbidden(rec, "admin role required")
	assert.Equal(t, 403, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "admin role required", body["error"])
}

func TestParseJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"test"}`))
	var dest struct {
		Name string `json:"name"`
	}
	require.NoError(t, ParseJSON(req, &dest))
	assert.Equal(t, "test", dest.Name)
}

func TestParseJSONInvalid(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{not json`))
	var dest map[string]interface{}
	err := ParseJSON(req, &dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=25", nil)
	val, err := ParseQueryInt(req, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 25, val)

	val, err = ParseQueryInt(req, "offset", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, val)

	req = httptest.NewRequest("GET", "/?limit=nope", nil)
	_, err = ParseQueryInt(req, "limit", 10)
	assert.Error(t, err)
}
