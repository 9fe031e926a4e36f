package roles

import "fmt"

// Decision is the outcome of a transition check. Reason is written for
// audit logs and API error bodies; RequiredRole is populated when the
// rejection was a privilege shortfall.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason"`
	RequiredRole Role   `json:"required_role,omitempty"`
}

// CanChangeRole decides whether changing a user from one role to another is
// permitted, optionally on behalf of an acting admin. All role-change
// policy lives here; call sites must not layer their own checks on top.
//
// actingAdmin may be nil for system-initiated changes (reconciliation,
// migrations); the privilege requirement is then not enforced, but the
// matrix legality still is.
func CanChangeRole(from, to Role, actingAdmin *ResolvedIdentity) Decision {
	if !IsValidRole(string(from)) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("invalid current role %q", from)}
	}
	if !IsValidRole(string(to)) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("invalid target role %q", to)}
	}

	if from == to {
		return Decision{Allowed: true, Reason: "No change"}
	}

	rule, ok := LookupTransition(from, to)
	if !ok {
		// A hole in the matrix is a configuration bug. Surface it instead
		// of silently permitting the change.
		return Decision{Allowed: false, Reason: fmt.Sprintf("transition %s -> %s is not defined", from, to)}
	}

	if !rule.Allowed {
		return Decision{Allowed: false, Reason: rule.Reason, RequiredRole: rule.RequiredRole}
	}

	if rule.RequiredRole != "" && actingAdmin != nil {
		if Index(actingAdmin.Role) < Index(rule.RequiredRole) {
			return Decision{
				Allowed:      false,
				Reason:       fmt.Sprintf("changing %s -> %s requires %s or higher", from, to, rule.RequiredRole),
				RequiredRole: rule.RequiredRole,
			}
		}
	}

	return Decision{Allowed: true, Reason: rule.Reason, RequiredRole: rule.RequiredRole}
}
