package permissions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/roles"
	"github.com/estateloop/estateloop/pkg/storage"
)

// Engine computes, caches and mutates user permission sets.
type Engine struct {
	users   storage.UserStore
	bundles storage.BundleStore
	cache   *Cache
	logger  *observability.Logger
	now     func() time.Time
}

// NewEngine creates a permission engine.
func NewEngine(users storage.UserStore, bundles storage.BundleStore, cache *Cache, logger *observability.Logger) *Engine {
	return &Engine{
		users:   users,
		bundles: bundles,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// effectiveRole maps an unapproved agent down to the pending baseline.
func effectiveRole(resolved roles.ResolvedIdentity) roles.Role {
	if resolved.Role == roles.RoleAgent && !resolved.Approved {
		return roles.RoleAgentPending
	}
	return resolved.Role
}

// ComputePermissions derives the permission set for a record: role
// defaults plus unexpired grants, deduplicated and sorted. Pure; no cache
// involvement.
func (e *Engine) ComputePermissions(record *storage.UserRecord) []string {
	resolved := record.Resolve()
	defaults := DefaultRolePermissions[effectiveRole(resolved)]

	set := make(map[string]struct{}, len(defaults)+len(record.Grants))
	for _, p := range defaults {
		set[p] = struct{}{}
	}
	now := e.now()
	for _, grant := range record.Grants {
		if grant.Expired(now) {
			continue
		}
		set[grant.Permission] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// GetUserPermissions returns the user's effective permission set, serving
// from the cache when possible.
func (e *Engine) GetUserPermissions(ctx context.Context, externalID string) ([]string, error) {
	if cached, ok := e.cache.Get(externalID); ok {
		return cached, nil
	}

	record, err := e.users.FindUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", externalID, err)
	}

	permissions := e.ComputePermissions(record)
	e.cache.Set(externalID, permissions)
	return permissions, nil
}

// ValidatePermission reports whether the user holds the permission.
func (e *Engine) ValidatePermission(ctx context.Context, externalID, permission string) (bool, error) {
	permissions, err := e.GetUserPermissions(ctx, externalID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

// GrantRequest describes one permission grant.
type GrantRequest struct {
	Permission string         `json:"permission"`
	Temporary  bool           `json:"temporary,omitempty"`
	TTL        *time.Duration `json:"-"`
	ResourceID string         `json:"resource_id,omitempty"`
	GrantedBy  string         `json:"granted_by,omitempty"`
}

// GrantPermission adds an individual grant to the user's record. Granting
// a permission the user already holds directly is a no-op.
func (e *Engine) GrantPermission(ctx context.Context, externalID string, req GrantRequest) error {
	if !IsKnownPermission(req.Permission) {
		return fmt.Errorf("unknown permission: %s", req.Permission)
	}

	record, err := e.users.FindUserByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", externalID, err)
	}

	for _, existing := range record.Grants {
		if existing.Permission == req.Permission && existing.ResourceID == req.ResourceID && !existing.Expired(e.now()) {
			return nil
		}
	}

	grant := storage.PermissionGrant{
		Permission: req.Permission,
		Temporary:  req.Temporary,
		ResourceID: req.ResourceID,
		GrantedBy:  req.GrantedBy,
		GrantedAt:  e.now(),
	}
	if req.Temporary && req.TTL != nil {
		expires := e.now().Add(*req.TTL)
		grant.ExpiresAt = &expires
	}
	record.Grants = append(record.Grants, grant)

	if _, err := e.users.SaveUser(ctx, record); err != nil {
		return fmt.Errorf("failed to save user %s: %w", externalID, err)
	}
	e.cache.Invalidate(externalID)

	e.logger.WithFields(map[string]interface{}{
		"user_id":    externalID,
		"permission": req.Permission,
		"granted_by": req.GrantedBy,
	}).Info("permission granted")
	return nil
}

// RevokePermission removes every grant of the permission from the user's
// record, regardless of provenance.
func (e *Engine) RevokePermission(ctx context.Context, externalID, permission string) error {
	record, err := e.users.FindUserByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", externalID, err)
	}

	kept := record.Grants[:0]
	var removed int
	for _, grant := range record.Grants {
		if grant.Permission == permission {
			removed++
			continue
		}
		kept = append(kept, grant)
	}
	if removed == 0 {
		return nil
	}
	record.Grants = kept

	if _, err := e.users.SaveUser(ctx, record); err != nil {
		return fmt.Errorf("failed to save user %s: %w", externalID, err)
	}
	e.cache.Invalidate(externalID)

	e.logger.WithFields(map[string]interface{}{
		"user_id":    externalID,
		"permission": permission,
	}).Info("permission revoked")
	return nil
}

// ApplyBundle grants every permission in the bundle, tagging the grants
// with the bundle id for later removal. Permissions already granted from
// the same bundle are not duplicated.
func (e *Engine) ApplyBundle(ctx context.Context, externalID, bundleID, grantedBy string) error {
	bundle, err := e.bundles.GetBundle(ctx, bundleID)
	if err != nil {
		return fmt.Errorf("failed to load bundle %s: %w", bundleID, err)
	}

	record, err := e.users.FindUserByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", externalID, err)
	}

	held := make(map[string]struct{})
	for _, grant := range record.Grants {
		if grant.BundleID == bundleID {
			held[grant.Permission] = struct{}{}
		}
	}

	var added int
	for _, permission := range bundle.Permissions {
		if _, ok := held[permission]; ok {
			continue
		}
		record.Grants = append(record.Grants, storage.PermissionGrant{
			Permission: permission,
			BundleID:   bundleID,
			GrantedBy:  grantedBy,
			GrantedAt:  e.now(),
		})
		added++
	}
	if added == 0 {
		return nil
	}

	if _, err := e.users.SaveUser(ctx, record); err != nil {
		return fmt.Errorf("failed to save user %s: %w", externalID, err)
	}
	e.cache.Invalidate(externalID)

	e.logger.WithFields(map[string]interface{}{
		"user_id":   externalID,
		"bundle_id": bundleID,
		"added":     added,
	}).Info("bundle applied")
	return nil
}

// RemoveBundle strips every grant the bundle contributed. Grants added
// individually, even for the same permissions, survive.
func (e *Engine) RemoveBundle(ctx context.Context, externalID, bundleID string) error {
	record, err := e.users.FindUserByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", externalID, err)
	}

	kept := record.Grants[:0]
	var removed int
	for _, grant := range record.Grants {
		if grant.BundleID == bundleID {
			removed++
			continue
		}
		kept = append(kept, grant)
	}
	if removed == 0 {
		return nil
	}
	record.Grants = kept

	if _, err := e.users.SaveUser(ctx, record); err != nil {
		return fmt.Errorf("failed to save user %s: %w", externalID, err)
	}
	e.cache.Invalidate(externalID)

	e.logger.WithFields(map[string]interface{}{
		"user_id":   externalID,
		"bundle_id": bundleID,
		"removed":   removed,
	}).Info("bundle removed")
	return nil
}
