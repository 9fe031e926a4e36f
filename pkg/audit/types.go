package audit

import (
	"time"

	"github.com/estateloop/estateloop/pkg/roles"
)

// RoleChangeEvent is one entry in the audit trail.
type RoleChangeEvent struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	PreviousRole  roles.Role `json:"previous_role"`
	NewRole       roles.Role `json:"new_role"`
	ActingAdminID string     `json:"acting_admin_id,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	RequestID     string     `json:"request_id,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}
