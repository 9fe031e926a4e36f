package roles

// Role represents an authorization level in the platform
type Role string

const (
	RoleUser         Role = "user"
	RoleAgentPending Role = "agent_pending"
	RoleAgent        Role = "agent"
	RoleSupport      Role = "support"
	RoleAdmin        Role = "admin"
	RoleSuperAdmin   Role = "super_admin"
)

// Hierarchy orders roles by privilege. The index of a role is its privilege
// level; a higher index means more privilege.
var Hierarchy = []Role{
	RoleUser,
	RoleAgentPending,
	RoleAgent,
	RoleSupport,
	RoleAdmin,
	RoleSuperAdmin,
}

// Index returns the privilege level of a role, or -1 for a value outside
// the closed role set.
func Index(r Role) int {
	for i, candidate := range Hierarchy {
		if candidate == r {
			return i
		}
	}
	return -1
}

// IsValidRole reports whether a raw value belongs to the closed role set.
func IsValidRole(value string) bool {
	return Index(Role(value)) >= 0
}

// All returns the closed role set in hierarchy order.
func All() []Role {
	out := make([]Role, len(Hierarchy))
	copy(out, Hierarchy)
	return out
}

// TransitionRule describes the legality of a single (from, to) role change.
// RequiredRole, when set, is the minimum role the acting admin must hold.
type TransitionRule struct {
	Allowed      bool   `json:"allowed"`
	RequiredRole Role   `json:"required_role,omitempty"`
	Reason       string `json:"reason"`
}

// transitionMatrix is total over the role set: every (from, to) pair
// resolves to an explicit rule. A pair the matrix does not answer is a
// configuration bug, not an implicit allow.
var transitionMatrix = map[Role]map[Role]TransitionRule{
	RoleUser: {
		RoleUser:         {Allowed: true, Reason: "No change"},
		RoleAgentPending: {Allowed: true, Reason: "User applied to become an agent"},
		RoleAgent:        {Allowed: true, RequiredRole: RoleAdmin, Reason: "Direct agent promotion requires an admin"},
		RoleSupport:      {Allowed: true, RequiredRole: RoleAdmin, Reason: "Support staff are appointed by an admin"},
		RoleAdmin:        {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Admins are appointed by a super admin"},
		RoleSuperAdmin:   {Allowed: false, Reason: "Super admin cannot be assigned through role changes"},
	},
	RoleAgentPending: {
		RoleUser:         {Allowed: true, RequiredRole: RoleAdmin, Reason: "Agent application rejected by an admin"},
		RoleAgentPending: {Allowed: true, Reason: "No change"},
		RoleAgent:        {Allowed: true, RequiredRole: RoleAdmin, Reason: "Agent application approved by an admin"},
		RoleSupport:      {Allowed: true, RequiredRole: RoleAdmin, Reason: "Support staff are appointed by an admin"},
		RoleAdmin:        {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Admins are appointed by a super admin"},
		RoleSuperAdmin:   {Allowed: false, Reason: "Super admin cannot be assigned through role changes"},
	},
	RoleAgent: {
		RoleUser:         {Allowed: true, RequiredRole: RoleAdmin, Reason: "Agent demoted to regular user"},
		RoleAgentPending: {Allowed: false, Reason: "Agents cannot return to pending; demote to user instead"},
		RoleAgent:        {Allowed: true, Reason: "No change"},
		RoleSupport:      {Allowed: true, RequiredRole: RoleAdmin, Reason: "Support staff are appointed by an admin"},
		RoleAdmin:        {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Admins are appointed by a super admin"},
		RoleSuperAdmin:   {Allowed: false, Reason: "Super admin cannot be assigned through role changes"},
	},
	RoleSupport: {
		RoleUser:         {Allowed: true, RequiredRole: RoleAdmin, Reason: "Support role revoked by an admin"},
		RoleAgentPending: {Allowed: false, Reason: "Support staff cannot enter the agent approval queue"},
		RoleAgent:        {Allowed: true, RequiredRole: RoleAdmin, Reason: "Support staff converted to agent by an admin"},
		RoleSupport:      {Allowed: true, Reason: "No change"},
		RoleAdmin:        {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Admins are appointed by a super admin"},
		RoleSuperAdmin:   {Allowed: false, Reason: "Super admin cannot be assigned through role changes"},
	},
	RoleAdmin: {
		RoleUser:         {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Admin demoted by a super admin"},
		RoleAgentPending: {Allowed: false, Reason: "Admins cannot enter the agent approval queue"},
		RoleAgent:        {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Admin converted to agent by a super admin"},
		RoleSupport:      {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Admin moved to support by a super admin"},
		RoleAdmin:        {Allowed: true, Reason: "No change"},
		RoleSuperAdmin:   {Allowed: false, Reason: "Super admin cannot be assigned through role changes"},
	},
	RoleSuperAdmin: {
		RoleUser:         {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Super admin demoted by another super admin"},
		RoleAgentPending: {Allowed: false, Reason: "Super admins cannot enter the agent approval queue"},
		RoleAgent:        {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Super admin converted to agent by another super admin"},
		RoleSupport:      {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Super admin moved to support by another super admin"},
		RoleAdmin:        {Allowed: true, RequiredRole: RoleSuperAdmin, Reason: "Super admin stepped down to admin"},
		RoleSuperAdmin:   {Allowed: true, Reason: "No change"},
	},
}

// LookupTransition returns the matrix rule for (from, to) and whether the
// pair is defined at all.
func LookupTransition(from, to Role) (TransitionRule, bool) {
	row, ok := transitionMatrix[from]
	if !ok {
		return TransitionRule{}, false
	}
	rule, ok := row[to]
	return rule, ok
}
