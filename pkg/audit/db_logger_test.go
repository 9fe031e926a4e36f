package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estateloop/estateloop/pkg/roles"
)

func newTestDBLogger(t *testing.T) *DBLogger {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger
}

func TestDBLoggerRoundTrip(t *testing.T) {
	logger := newTestDBLogger(t)
	ctx := context.Background()

	event := &RoleChangeEvent{
		UserID:        "user_1",
		PreviousRole:  roles.RoleUser,
		NewRole:       roles.RoleAgentPending,
		ActingAdminID: "admin_1",
		Reason:        "agent application",
	}
	require.NoError(t, logger.LogRoleChange(ctx, event))
	assert.NotEmpty(t, event.ID, "id assigned on write")
	assert.False(t, event.Timestamp.IsZero())

	events, err := logger.RecentForUser(ctx, "user_1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, roles.RoleUser, events[0].PreviousRole)
	assert.Equal(t, roles.RoleAgentPending, events[0].NewRole)
	assert.Equal(t, "admin_1", events[0].ActingAdminID)
}

func TestDBLoggerRecentOrderAndLimit(t *testing.T) {
	logger := newTestDBLogger(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	transitions := []roles.Role{roles.RoleAgentPending, roles.RoleAgent, roles.RoleUser}
	previous := roles.RoleUser
	for i, next := range transitions {
		require.NoError(t, logger.LogRoleChange(ctx, &RoleChangeEvent{
			UserID:       "user_1",
			PreviousRole: previous,
			NewRole:      next,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		}))
		previous = next
	}

	events, err := logger.RecentForUser(ctx, "user_1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, roles.RoleUser, events[0].NewRole, "newest first")
	assert.Equal(t, roles.RoleAgent, events[1].NewRole)
}

func TestDBLoggerScopedToUser(t *testing.T) {
	logger := newTestDBLogger(t)
	ctx := context.Background()

	require.NoError(t, logger.LogRoleChange(ctx, &RoleChangeEvent{UserID: "user_1", PreviousRole: roles.RoleUser, NewRole: roles.RoleAgentPending}))
	require.NoError(t, logger.LogRoleChange(ctx, &RoleChangeEvent{UserID: "user_2", PreviousRole: roles.RoleUser, NewRole: roles.RoleSupport}))

	events, err := logger.RecentForUser(ctx, "user_2", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, roles.RoleSupport, events[0].NewRole)
}

func TestMemoryLoggerFailureInjection(t *testing.T) {
	logger := NewMemoryLogger()
	logger.FailNext = assert.AnError

	err := logger.LogRoleChange(context.Background(), &RoleChangeEvent{UserID: "user_1"})
	assert.Error(t, err)

	// One-shot: the next write succeeds.
	require.NoError(t, logger.LogRoleChange(context.Background(), &RoleChangeEvent{UserID: "user_1"}))
	assert.Len(t, logger.Events(), 1)
}
