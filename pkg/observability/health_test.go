package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestLivenessAlwaysHealthy(t *testing.T) {
	checker := NewHealthChecker(nil, nil)
	rec := httptest.NewRecorder()
	checker.Liveness(rec, httptest.NewRequest("GET", "/health/live", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestCheckDegradedWhenCacheDown(t *testing.T) {
	checker := NewHealthChecker(nil, fakePinger{err: errors.New("connection refused")})

	status := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)

	dep, ok := status.Dependencies["listing_cache"]
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, dep.Status)
}

func TestCheckHealthyWithNoDependencies(t *testing.T) {
	checker := NewHealthChecker(nil, nil)
	status := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Empty(t, status.Dependencies)
}

func TestReadinessStatusCodes(t *testing.T) {
	healthy := NewHealthChecker(nil, fakePinger{})
	rec := httptest.NewRecorder()
	healthy.Readiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, 200, rec.Code)

	// A lost cache degrades but stays ready.
	degraded := NewHealthChecker(nil, fakePinger{err: errors.New("down")})
	rec = httptest.NewRecorder()
	degraded.Readiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, 200, rec.Code)
}
