package storage

import (
	"time"

	"github.com/estateloop/estateloop/pkg/roles"
)

// SyncStatus tracks the outcome of the most recent reconciliation pass for
// a user.
type SyncStatus string

const (
	SyncStatusOK      SyncStatus = "ok"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// maxSyncHistory caps the per-user sync history ring.
const maxSyncHistory = 10

// UserRecord is the database's document for a user. It is the long-lived
// source of truth for authorization decisions; the identity provider record
// is kept eventually consistent with it by the synchronizer.
//
// Records are created on first sight of a user and never hard-deleted;
// Deleted marks removal.
type UserRecord struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"` // identity provider user id

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	ImageURL  string `json:"image_url,omitempty"`

	Role     roles.Role `json:"role"`
	Approved bool       `json:"approved"`

	LastSynced  time.Time          `json:"last_synced,omitempty"`
	SyncStatus  SyncStatus         `json:"sync_status,omitempty"`
	SyncHistory []SyncHistoryEntry `json:"sync_history,omitempty"`

	RoleHistory []RoleHistoryEntry `json:"role_history,omitempty"`
	Grants      []PermissionGrant  `json:"grants,omitempty"`

	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncHistoryEntry records one reconciliation outcome.
type SyncHistoryEntry struct {
	Direction string    `json:"direction"`
	Changed   bool      `json:"changed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RoleHistoryEntry records one applied role change.
type RoleHistoryEntry struct {
	PreviousRole roles.Role `json:"previous_role"`
	NewRole      roles.Role `json:"new_role"`
	ChangedBy    string     `json:"changed_by,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// PermissionGrant is an individual permission override on a user. BundleID
// records provenance when the grant came from applying a bundle.
type PermissionGrant struct {
	Permission string     `json:"permission"`
	BundleID   string     `json:"bundle_id,omitempty"`
	Temporary  bool       `json:"temporary,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ResourceID string     `json:"resource_id,omitempty"`
	GrantedBy  string     `json:"granted_by,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
}

// Expired reports whether a temporary grant has lapsed.
func (g PermissionGrant) Expired(now time.Time) bool {
	return g.Temporary && g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// Bundle is a named, admin-managed set of permission strings.
type Bundle struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AuthorSnapshot is the denormalized author block embedded in listing
// documents so that listing pages render without a join.
type AuthorSnapshot struct {
	AuthorID string     `json:"author_id"`
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	ImageURL string     `json:"image_url,omitempty"`
	Role     roles.Role `json:"role"`
}

// RoleRecord returns the resolver view of this record.
func (u *UserRecord) RoleRecord() roles.Record {
	return roles.DatabaseRecord(string(u.Role), u.Approved)
}

// Resolve derives the user's effective role and approval state.
func (u *UserRecord) Resolve() roles.ResolvedIdentity {
	return roles.Resolve(u.RoleRecord())
}

// AppendSyncHistory pushes an entry onto the sync history ring, evicting
// the oldest entries beyond the cap.
func (u *UserRecord) AppendSyncHistory(entry SyncHistoryEntry) {
	u.SyncHistory = append(u.SyncHistory, entry)
	if len(u.SyncHistory) > maxSyncHistory {
		u.SyncHistory = u.SyncHistory[len(u.SyncHistory)-maxSyncHistory:]
	}
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

// Snapshot builds the author snapshot for this user's listings.
func (u *UserRecord) Snapshot() AuthorSnapshot {
	return AuthorSnapshot{
		AuthorID: u.ExternalID,
		Name:     u.DisplayName(),
		Email:    u.Email,
		ImageURL: u.ImageURL,
		Role:     u.Role,
	}
}
