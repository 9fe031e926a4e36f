package identity

import (
	"github.com/estateloop/estateloop/pkg/roles"
)

// UserRecord is the identity provider's view of a user. It is owned
// exclusively by the provider; the application reads it and requests
// metadata updates but never fabricates one.
type UserRecord struct {
	ID        string                 `json:"id"`
	FirstName string                 `json:"first_name"`
	LastName  string                 `json:"last_name"`
	Email     string                 `json:"email"`
	ImageURL  string                 `json:"image_url,omitempty"`
	Metadata  map[string]interface{} `json:"public_metadata"`
}

// RoleRecord returns the resolver view of this record.
func (u *UserRecord) RoleRecord() roles.Record {
	return roles.IdentityRecord(u.Metadata)
}

// Resolve derives the user's effective role and approval state.
func (u *UserRecord) Resolve() roles.ResolvedIdentity {
	return roles.Resolve(u.RoleRecord())
}

// HasRole reports whether the provider metadata carries an explicit role
// value at all, as opposed to the resolver's default. Reconciliation that
// trusts the provider as authoritative must check this first.
func (u *UserRecord) HasRole() bool {
	if u.Metadata == nil {
		return false
	}
	v, ok := u.Metadata["role"].(string)
	return ok && v != ""
}

// DisplayName returns the user's full name for denormalized snapshots.
func (u *UserRecord) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Email
	}
}

// MetadataUpdate is a request to change a user's provider metadata. Extra
// entries are merged alongside the role fields without being interpreted.
type MetadataUpdate struct {
	Role     roles.Role             `json:"role"`
	Approved bool                   `json:"approved"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}
