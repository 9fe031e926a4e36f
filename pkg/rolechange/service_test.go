package rolechange

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estateloop/estateloop/pkg/audit"
	"github.com/estateloop/estateloop/pkg/identity"
	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/retry"
	"github.com/estateloop/estateloop/pkg/roles"
	"github.com/estateloop/estateloop/pkg/storage"
	syncpkg "github.com/estateloop/estateloop/pkg/sync"
)

type fakeCache struct {
	invalidated  []string
	onInvalidate func(externalID string)
}

func (f *fakeCache) Invalidate(externalID string) {
	f.invalidated = append(f.invalidated, externalID)
	if f.onInvalidate != nil {
		f.onInvalidate(externalID)
	}
}

type fixture struct {
	service  *Service
	store    *storage.MemoryStore
	provider *identity.FakeClient
	auditor  *audit.MemoryLogger
	cache    *fakeCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	provider := identity.NewFakeClient()
	auditor := audit.NewMemoryLogger()
	cache := &fakeCache{}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, identity.IsRetryable)
	synchronizer := syncpkg.NewSynchronizer(store, store, provider, logger, syncpkg.WithRetryPolicy(policy))

	service := NewService(store, synchronizer, auditor, logger, WithPermissionCache(cache))
	return &fixture{
		service:  service,
		store:    store,
		provider: provider,
		auditor:  auditor,
		cache:    cache,
	}
}

func (f *fixture) seed(t *testing.T, role roles.Role, approved bool) {
	t.Helper()
	_, err := f.store.SaveUser(context.Background(), &storage.UserRecord{
		ExternalID: "user_1",
		Email:      "jane@example.com",
		Role:       role,
		Approved:   approved,
	})
	require.NoError(t, err)
	f.provider.AddUser(&identity.UserRecord{
		ID:    "user_1",
		Email: "jane@example.com",
	})
}

func admin() *roles.ResolvedIdentity {
	return &roles.ResolvedIdentity{Role: roles.RoleAdmin}
}

func superAdmin() *roles.ResolvedIdentity {
	return &roles.ResolvedIdentity{Role: roles.RoleSuperAdmin}
}

func boolPtr(v bool) *bool { return &v }

func TestChangeRoleAppliesAcrossBothSystems(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleAgentPending, false)

	result, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleAgent,
		Approved:    boolPtr(true),
		Reason:      "application approved",
		ActingAdmin: admin(),
		AdminID:     "admin_1",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Changes.RoleChanged)
	assert.True(t, result.Changes.ApprovalChanged)
	assert.True(t, result.IdentitySynced)

	record, err := f.store.FindUserByExternalID(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, roles.RoleAgent, record.Role)
	assert.True(t, record.Approved)
	assert.Equal(t, roles.RoleAgent, f.provider.MetadataRole("user_1"))
}

func TestChangeRoleUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "ghost",
		NewRole:     roles.RoleAgent,
		ActingAdmin: admin(),
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestChangeRoleRejectsForbiddenTransition(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleAgent, true)

	_, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleAgentPending,
		ActingAdmin: admin(),
	})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 400, invalid.StatusCode())

	// Nothing was written anywhere.
	record, err := f.store.FindUserByExternalID(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, roles.RoleAgent, record.Role)
	assert.Empty(t, f.auditor.Events())
}

func TestChangeRoleSuperAdminNeverAssignable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleAdmin, false)

	_, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleSuperAdmin,
		ActingAdmin: superAdmin(),
	})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestChangeRolePrivilegeShortfallIs403(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleAdmin, false)

	// Demoting an admin requires super admin.
	_, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleUser,
		ActingAdmin: admin(),
	})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 403, invalid.StatusCode())
	assert.Equal(t, roles.RoleSuperAdmin, invalid.Decision.RequiredRole)
}

func TestChangeRoleIdempotentNoOp(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleAgent, true)

	result, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleAgent,
		Approved:    boolPtr(true),
		ActingAdmin: admin(),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "no changes needed", result.Message)
	assert.False(t, result.Changes.RoleChanged)
	assert.Empty(t, f.auditor.Events(), "no-op must not produce an audit entry")
	assert.Empty(t, f.cache.invalidated)
}

func TestChangeRoleApprovalOnlyChange(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleAgent, false)

	result, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleAgent,
		Approved:    boolPtr(true),
		ActingAdmin: admin(),
	})
	require.NoError(t, err)
	assert.False(t, result.Changes.RoleChanged)
	assert.True(t, result.Changes.ApprovalChanged)
	assert.Empty(t, f.auditor.Events(), "approval flips alone are not role changes")
	assert.Equal(t, []string{"user_1"}, f.cache.invalidated)
}

func TestChangeRoleInvalidatesCacheAfterProviderPush(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleUser, false)

	pushesAtInvalidate := -1
	f.cache.onInvalidate = func(string) {
		pushesAtInvalidate = f.provider.UpdateCalls
	}

	_, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleSupport,
		ActingAdmin: admin(),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"user_1"}, f.cache.invalidated)
	assert.Equal(t, 1, pushesAtInvalidate, "invalidation must follow the metadata push")
}

func TestChangeRoleComputedApproval(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleUser, false)

	// Self-service application: no admin required.
	result, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:  "user_1",
		NewRole: roles.RoleAgentPending,
		// Caller tries to smuggle approval in; pending is never approved.
		Approved: boolPtr(true),
	})
	require.NoError(t, err)
	assert.False(t, result.Approved)

	// Non-agent roles are implicitly approved.
	result, err = f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleUser,
		ActingAdmin: admin(),
	})
	require.NoError(t, err)
	assert.True(t, result.Approved)
}

func TestChangeRoleWritesAudit(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleUser, false)

	_, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleSupport,
		Reason:      "joining support team",
		ActingAdmin: admin(),
		AdminID:     "admin_1",
	})
	require.NoError(t, err)

	events := f.auditor.Events()
	require.Len(t, events, 1)
	assert.Equal(t, roles.RoleUser, events[0].PreviousRole)
	assert.Equal(t, roles.RoleSupport, events[0].NewRole)
	assert.Equal(t, "admin_1", events[0].ActingAdminID)
	assert.Equal(t, "joining support team", events[0].Reason)
}

func TestChangeRoleAuditFailureNonFatal(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleUser, false)
	f.auditor.FailNext = assert.AnError

	result, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleSupport,
		ActingAdmin: admin(),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestChangeRoleProviderFailureDefersSync(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleUser, false)
	f.provider.UpdateErr = &identity.ProviderError{
		Op:       "update_user_metadata",
		Category: identity.CategoryConnection,
		Err:      assert.AnError,
	}

	result, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleSupport,
		ActingAdmin: admin(),
	})
	require.NoError(t, err)
	assert.True(t, result.Success, "database commit wins; provider sync is deferred")
	assert.False(t, result.IdentitySynced)

	record, err := f.store.FindUserByExternalID(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, roles.RoleSupport, record.Role)
	assert.Equal(t, storage.SyncStatusFailed, record.SyncStatus)
	assert.Equal(t, []string{"user_1"}, f.cache.invalidated, "a failed push must still drop the cached permissions")
}

func TestChangeRoleRecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t, roles.RoleUser, false)

	_, err := f.service.ChangeUserRole(context.Background(), Request{
		UserID:      "user_1",
		NewRole:     roles.RoleAgentPending,
		Reason:      "agent application",
		ActingAdmin: nil,
	})
	require.NoError(t, err)

	record, err := f.store.FindUserByExternalID(context.Background(), "user_1")
	require.NoError(t, err)
	require.Len(t, record.RoleHistory, 1)
	assert.Equal(t, roles.RoleUser, record.RoleHistory[0].PreviousRole)
	assert.Equal(t, roles.RoleAgentPending, record.RoleHistory[0].NewRole)
}
