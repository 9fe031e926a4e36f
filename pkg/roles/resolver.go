package roles

// RecordSource identifies which system produced a user record.
type RecordSource int

const (
	// SourceIdentity marks a record shaped like the identity provider's
	// view: role and approval live in a metadata map.
	SourceIdentity RecordSource = iota
	// SourceDatabase marks a record shaped like the application database's
	// view: role and approval are explicit fields.
	SourceDatabase
)

// Record is a tagged view over the two record shapes the platform stores
// users in. Callers build one with IdentityRecord or DatabaseRecord; the
// resolver branches on Source instead of probing field presence.
type Record struct {
	Source RecordSource

	// Database shape: explicit fields.
	Role     string
	Approved *bool

	// Identity shape: the provider's metadata blob.
	Metadata map[string]interface{}
}

// IdentityRecord builds a Record from the identity provider's metadata map.
func IdentityRecord(metadata map[string]interface{}) Record {
	return Record{Source: SourceIdentity, Metadata: metadata}
}

// DatabaseRecord builds a Record from the database's explicit fields.
func DatabaseRecord(role string, approved bool) Record {
	return Record{Source: SourceDatabase, Role: role, Approved: &approved}
}

// ResolvedIdentity is the canonical internal view of a user's authorization
// state, derived from either record shape.
type ResolvedIdentity struct {
	Role     Role `json:"role"`
	Approved bool `json:"approved"`
}

// Resolve converts a record of either shape into the canonical form. It
// never fails: a missing or malformed record resolves to an unapproved
// regular user.
func Resolve(rec Record) ResolvedIdentity {
	return ResolvedIdentity{
		Role:     GetRole(rec),
		Approved: GetApprovalStatus(rec),
	}
}

// GetRole extracts the role from a record of either shape. Values outside
// the closed role set, and absent values, resolve to RoleUser.
func GetRole(rec Record) Role {
	raw := ""
	switch rec.Source {
	case SourceDatabase:
		raw = rec.Role
	case SourceIdentity:
		if rec.Metadata != nil {
			if v, ok := rec.Metadata["role"].(string); ok {
				raw = v
			}
		}
	}
	if !IsValidRole(raw) {
		return RoleUser
	}
	return Role(raw)
}

// GetApprovalStatus extracts the raw approval flag from a record of either
// shape. Absence defaults to false.
//
// The flag only gates agents: callers checking anything other than
// agent/agent_pending must treat approval as irrelevant (see
// ResolvedIdentity.EffectiveApproval). An admin record with no approved
// field is still fully an admin.
func GetApprovalStatus(rec Record) bool {
	switch rec.Source {
	case SourceDatabase:
		return rec.Approved != nil && *rec.Approved
	case SourceIdentity:
		if rec.Metadata != nil {
			if v, ok := rec.Metadata["approved"].(bool); ok {
				return v
			}
		}
	}
	return false
}

// EffectiveApproval reports whether the user should be treated as approved.
// The raw flag only applies to agent roles; every other role is implicitly
// approved regardless of what the stored field says.
func (r ResolvedIdentity) EffectiveApproval() bool {
	if r.Role == RoleAgent {
		return r.Approved
	}
	if r.Role == RoleAgentPending {
		return false
	}
	return true
}

// IsAdmin reports whether the user holds admin or super admin. It does not
// consult the approval flag.
func (r ResolvedIdentity) IsAdmin() bool {
	return r.Role == RoleAdmin || r.Role == RoleSuperAdmin
}

// IsApprovedAgent reports whether the user is an agent whose application
// has been approved.
func (r ResolvedIdentity) IsApprovedAgent() bool {
	return r.Role == RoleAgent && r.Approved
}

// IsPendingAgent reports whether the user is waiting on agent approval.
// An agent whose approval flag was cleared counts as pending.
func (r ResolvedIdentity) IsPendingAgent() bool {
	return r.Role == RoleAgentPending || (r.Role == RoleAgent && !r.Approved)
}

// IsAnyAgent reports whether the user holds an agent role, approved or not.
// Permission grants never make a non-agent "any agent"; this predicate is
// role-only.
func (r ResolvedIdentity) IsAnyAgent() bool {
	return r.Role == RoleAgent || r.Role == RoleAgentPending
}

// Dashboard identifies one of the four dashboard routes a resolved user
// lands on.
type Dashboard string

const (
	DashboardAdmin   Dashboard = "admin"
	DashboardAgent   Dashboard = "agent"
	DashboardPending Dashboard = "pending"
	DashboardUser    Dashboard = "user"
)

// DashboardForRole maps a resolved user to a dashboard route. It sits on
// the critical path of every page render, so it never fails; anything
// unexpected lands on the user dashboard.
func (r ResolvedIdentity) DashboardForRole() Dashboard {
	switch {
	case r.IsAdmin(), r.Role == RoleSupport:
		return DashboardAdmin
	case r.IsApprovedAgent():
		return DashboardAgent
	case r.IsPendingAgent():
		return DashboardPending
	default:
		return DashboardUser
	}
}
