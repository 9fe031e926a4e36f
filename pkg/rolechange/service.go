package rolechange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/estateloop/estateloop/pkg/audit"
	"github.com/estateloop/estateloop/pkg/contextkeys"
	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/retry"
	"github.com/estateloop/estateloop/pkg/roles"
	"github.com/estateloop/estateloop/pkg/storage"
	syncpkg "github.com/estateloop/estateloop/pkg/sync"
)

// CacheInvalidator drops a user's cached permission set after a change.
// The permissions cache satisfies it.
type CacheInvalidator interface {
	Invalidate(externalID string)
}

// Request describes one role change.
type Request struct {
	UserID      string                  `json:"user_id"`
	NewRole     roles.Role              `json:"new_role"`
	Approved    *bool                   `json:"approved,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	ActingAdmin *roles.ResolvedIdentity `json:"-"`
	AdminID     string                  `json:"-"`
}

// Changes reports which fields the change actually touched.
type Changes struct {
	RoleChanged     bool `json:"role_changed"`
	ApprovalChanged bool `json:"approval_changed"`
}

// Result is the outcome of an applied (or no-op) role change.
type Result struct {
	Success        bool       `json:"success"`
	PreviousRole   roles.Role `json:"previous_role"`
	NewRole        roles.Role `json:"new_role"`
	Approved       bool       `json:"approved"`
	Changes        Changes    `json:"changes"`
	IdentitySynced bool       `json:"identity_synced"`
	Message        string     `json:"message,omitempty"`
}

// Service applies role changes across both systems.
type Service struct {
	users        storage.UserStore
	synchronizer *syncpkg.Synchronizer
	auditor      audit.Logger
	cache        CacheInvalidator
	policy       *retry.Policy
	logger       *observability.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics wires Prometheus counters.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithPermissionCache wires the permission cache for invalidation.
func WithPermissionCache(cache CacheInvalidator) Option {
	return func(s *Service) { s.cache = cache }
}

// NewService creates the role change orchestrator.
func NewService(users storage.UserStore, synchronizer *syncpkg.Synchronizer, auditor audit.Logger, logger *observability.Logger, opts ...Option) *Service {
	s := &Service{
		users:        users,
		synchronizer: synchronizer,
		auditor:      auditor,
		policy:       retry.NewPolicy(retry.DefaultConfig(), storage.IsTransient),
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChangeUserRole validates and applies one role change.
func (s *Service) ChangeUserRole(ctx context.Context, req Request) (*Result, error) {
	result, err := s.changeUserRole(ctx, req)

	if s.metrics != nil {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "failure"
			var invalid *InvalidTransitionError
			if errors.As(err, &invalid) {
				outcome = "rejected"
			}
		case !result.Changes.RoleChanged && !result.Changes.ApprovalChanged:
			outcome = "noop"
		}
		s.metrics.RoleChangesTotal.WithLabelValues(outcome).Inc()
	}
	return result, err
}

func (s *Service) changeUserRole(ctx context.Context, req Request) (*Result, error) {
	record, err := s.users.FindUserByExternalID(ctx, req.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", req.UserID, err)
	}

	currentRole := record.Resolve().Role

	decision := roles.CanChangeRole(currentRole, req.NewRole, req.ActingAdmin)
	if !decision.Allowed {
		return nil, &InvalidTransitionError{From: currentRole, To: req.NewRole, Decision: decision}
	}

	newApproved := s.computeApproval(req)

	if currentRole == req.NewRole && record.Approved == newApproved {
		return &Result{
			Success:        true,
			PreviousRole:   currentRole,
			NewRole:        currentRole,
			Approved:       record.Approved,
			IdentitySynced: true,
			Message:        "no changes needed",
		}, nil
	}

	result := &Result{
		Success:      true,
		PreviousRole: currentRole,
		NewRole:      req.NewRole,
		Approved:     newApproved,
		Changes: Changes{
			RoleChanged:     currentRole != req.NewRole,
			ApprovalChanged: record.Approved != newApproved,
		},
	}

	record.Role = req.NewRole
	record.Approved = newApproved
	if result.Changes.RoleChanged {
		record.RoleHistory = append(record.RoleHistory, storage.RoleHistoryEntry{
			PreviousRole: result.PreviousRole,
			NewRole:      req.NewRole,
			ChangedBy:    req.AdminID,
			Reason:       req.Reason,
			Timestamp:    s.now(),
		})
	}
	record.SyncStatus = storage.SyncStatusPending

	err = s.policy.Do(ctx, func(ctx context.Context) error {
		_, err := s.users.SaveUser(ctx, record)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save role change for %s: %w", req.UserID, err)
	}

	// The database is committed; push the change out. A failed push leaves
	// the record sync-failed for the batch reconciler.
	if _, err := s.synchronizer.SyncUser(ctx, req.UserID, syncpkg.DirectionDBWins); err != nil {
		s.logger.WithError(err).WithField("user_id", req.UserID).Warn("identity provider push failed after role change")
		result.Message = "role changed; identity provider sync deferred"
	} else {
		result.IdentitySynced = true
	}

	// Invalidate after both stores settle so the next permission lookup
	// recomputes from the committed record.
	if s.cache != nil {
		s.cache.Invalidate(req.UserID)
	}

	if result.Changes.RoleChanged {
		s.writeAudit(ctx, req, result)
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":       req.UserID,
		"previous_role": string(result.PreviousRole),
		"new_role":      string(result.NewRole),
		"acting_admin":  req.AdminID,
	}).Info("role change applied")

	return result, nil
}

// computeApproval derives the approval flag for the target role: agents
// take the caller's value, pending agents are never approved, and every
// other role is implicitly approved.
func (s *Service) computeApproval(req Request) bool {
	switch req.NewRole {
	case roles.RoleAgent:
		return req.Approved != nil && *req.Approved
	case roles.RoleAgentPending:
		return false
	default:
		return true
	}
}

// writeAudit records the change. Audit failure is logged, never fatal.
func (s *Service) writeAudit(ctx context.Context, req Request, result *Result) {
	event := &audit.RoleChangeEvent{
		UserID:        req.UserID,
		PreviousRole:  result.PreviousRole,
		NewRole:       result.NewRole,
		ActingAdminID: req.AdminID,
		Reason:        req.Reason,
		RequestID:     contextkeys.GetRequestID(ctx),
		Timestamp:     s.now(),
	}
	if err := s.auditor.LogRoleChange(ctx, event); err != nil {
		s.logger.WithError(err).WithField("user_id", req.UserID).Error("failed to write audit event")
	}
}
