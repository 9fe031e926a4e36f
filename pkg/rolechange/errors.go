package rolechange

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/estateloop/estateloop/pkg/roles"
)

// ErrUserNotFound is returned when neither system knows the user.
var ErrUserNotFound = errors.New("user not found")

// InvalidTransitionError is a role change rejected by policy. It carries
// the full decision so handlers can distinguish privilege shortfalls from
// illegal transitions.
type InvalidTransitionError struct {
	From     roles.Role
	To       roles.Role
	Decision roles.Decision
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("role change %s -> %s rejected: %s", e.From, e.To, e.Decision.Reason)
}

// StatusCode maps the rejection to an HTTP status: privilege shortfalls
// are 403, everything else is a 400.
func (e *InvalidTransitionError) StatusCode() int {
	if e.Decision.RequiredRole != "" {
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}
