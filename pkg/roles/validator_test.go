package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanChangeRoleSelfTransition(t *testing.T) {
	for _, r := range All() {
		decision := CanChangeRole(r, r, nil)
		assert.True(t, decision.Allowed, "self transition for %s", r)
		assert.Equal(t, "No change", decision.Reason)
	}
}

func TestCanChangeRoleRejectsInvalidRoles(t *testing.T) {
	admin := &ResolvedIdentity{Role: RoleSuperAdmin}

	decision := CanChangeRole(Role("moderator"), RoleAgent, admin)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "invalid current role")

	decision = CanChangeRole(RoleUser, Role("owner"), admin)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "invalid target role")
}

func TestAgentApprovalRequiresAdmin(t *testing.T) {
	agent := &ResolvedIdentity{Role: RoleAgent, Approved: true}
	support := &ResolvedIdentity{Role: RoleSupport}
	admin := &ResolvedIdentity{Role: RoleAdmin}
	superAdmin := &ResolvedIdentity{Role: RoleSuperAdmin}

	for _, actor := range []*ResolvedIdentity{agent, support} {
		decision := CanChangeRole(RoleAgentPending, RoleAgent, actor)
		assert.False(t, decision.Allowed, "actor %s must not approve agents", actor.Role)
		assert.Equal(t, RoleAdmin, decision.RequiredRole)
	}

	for _, actor := range []*ResolvedIdentity{admin, superAdmin} {
		decision := CanChangeRole(RoleAgentPending, RoleAgent, actor)
		assert.True(t, decision.Allowed, "actor %s should approve agents", actor.Role)
	}
}

func TestNilActorSkipsPrivilegeCheck(t *testing.T) {
	// System-initiated changes carry no acting admin; matrix legality
	// still applies but the privilege requirement does not.
	decision := CanChangeRole(RoleAgentPending, RoleAgent, nil)
	assert.True(t, decision.Allowed)

	decision = CanChangeRole(RoleAgent, RoleSuperAdmin, nil)
	assert.False(t, decision.Allowed)
}

func TestSuperAdminNeverMintedThroughRoleChange(t *testing.T) {
	superAdmin := &ResolvedIdentity{Role: RoleSuperAdmin}
	for _, from := range All() {
		if from == RoleSuperAdmin {
			continue
		}
		decision := CanChangeRole(from, RoleSuperAdmin, superAdmin)
		assert.False(t, decision.Allowed, "%s -> super_admin must fail even for a super admin", from)
	}
}

func TestForbiddenTransitionSurfacesReason(t *testing.T) {
	decision := CanChangeRole(RoleAgent, RoleAgentPending, &ResolvedIdentity{Role: RoleSuperAdmin})
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reason)
}

func TestDecisionCarriesRequiredRoleOnPrivilegeShortfall(t *testing.T) {
	actor := &ResolvedIdentity{Role: RoleAdmin}
	decision := CanChangeRole(RoleUser, RoleAdmin, actor)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RoleSuperAdmin, decision.RequiredRole)
	assert.Contains(t, decision.Reason, "requires super_admin")
}
