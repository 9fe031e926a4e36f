package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/estateloop/estateloop/pkg/identity"
	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/retry"
	"github.com/estateloop/estateloop/pkg/roles"
	"github.com/estateloop/estateloop/pkg/storage"
)

// Direction selects which system wins a role disagreement.
type Direction string

const (
	// DirectionDBWins pushes the database's role state into provider
	// metadata.
	DirectionDBWins Direction = "db_to_identity"
	// DirectionIdentityWins adopts the provider's explicit role into the
	// database.
	DirectionIdentityWins Direction = "identity_to_db"
)

// ErrNoProviderRole is returned by identity_to_db passes when the provider
// record carries no explicit role to adopt.
var ErrNoProviderRole = errors.New("identity provider record has no role set")

// AuthorInvalidator drops cached listings for an author after a snapshot
// refresh.
type AuthorInvalidator interface {
	InvalidateAuthor(ctx context.Context, authorID string) error
}

// Result reports what one reconciliation pass did.
type Result struct {
	ExternalID      string     `json:"external_id"`
	Direction       Direction  `json:"direction"`
	Created         bool       `json:"created,omitempty"`
	RoleChanged     bool       `json:"role_changed"`
	ApprovalChanged bool       `json:"approval_changed"`
	ProfileChanged  bool       `json:"profile_changed"`
	ListingsUpdated int64      `json:"listings_updated"`
	Role            roles.Role `json:"role"`
	Approved        bool       `json:"approved"`
}

// Changed reports whether the pass altered either system.
func (r *Result) Changed() bool {
	return r.Created || r.RoleChanged || r.ApprovalChanged || r.ProfileChanged
}

// Synchronizer reconciles one user at a time between the two systems.
type Synchronizer struct {
	users    storage.UserStore
	listings storage.ListingStore
	provider identity.Client
	cache    AuthorInvalidator
	policy   *retry.Policy
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithListingCache wires the redis listing cache for author invalidation.
func WithListingCache(cache AuthorInvalidator) Option {
	return func(s *Synchronizer) { s.cache = cache }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = metrics }
}

// WithRetryPolicy overrides the default provider retry policy.
func WithRetryPolicy(policy *retry.Policy) Option {
	return func(s *Synchronizer) { s.policy = policy }
}

// NewSynchronizer creates a synchronizer over the two systems.
func NewSynchronizer(users storage.UserStore, listings storage.ListingStore, provider identity.Client, logger *observability.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		users:    users,
		listings: listings,
		provider: provider,
		policy:   retry.NewPolicy(retry.DefaultConfig(), identity.IsRetryable),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncUser runs one full reconciliation pass for a user.
func (s *Synchronizer) SyncUser(ctx context.Context, externalID string, direction Direction) (*Result, error) {
	start := s.now()
	result, err := s.syncUser(ctx, externalID, direction)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if s.metrics != nil {
		s.metrics.SyncOperationsTotal.WithLabelValues(string(direction), outcome).Inc()
		s.metrics.SyncDuration.WithLabelValues(string(direction)).Observe(s.now().Sub(start).Seconds())
	}
	return result, err
}

func (s *Synchronizer) syncUser(ctx context.Context, externalID string, direction Direction) (*Result, error) {
	log := s.logger.WithFields(map[string]interface{}{
		"user_id":   externalID,
		"direction": string(direction),
	})

	providerUser, err := s.fetchProviderUser(ctx, externalID)
	if err != nil {
		return nil, err
	}

	record, err := s.users.FindUserByExternalID(ctx, externalID)
	created := false
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if direction != DirectionIdentityWins {
			return nil, fmt.Errorf("user %s has no database record: %w", externalID, err)
		}
		record = &storage.UserRecord{
			ExternalID: externalID,
			Role:       roles.RoleUser,
		}
		created = true
	case err != nil:
		return nil, fmt.Errorf("failed to load user %s: %w", externalID, err)
	}

	result := &Result{
		ExternalID: externalID,
		Direction:  direction,
		Created:    created,
	}

	switch direction {
	case DirectionIdentityWins:
		if !providerUser.HasRole() {
			return nil, fmt.Errorf("cannot sync %s from provider: %w", externalID, ErrNoProviderRole)
		}
		resolved := providerUser.Resolve()
		result.RoleChanged = record.Role != resolved.Role
		result.ApprovalChanged = record.Approved != resolved.Approved
		record.Role = resolved.Role
		record.Approved = resolved.Approved

	case DirectionDBWins:
		resolved := record.Resolve()
		providerResolved := providerUser.Resolve()
		if !providerUser.HasRole() || providerResolved.Role != resolved.Role || providerResolved.Approved != resolved.Approved {
			if err := s.pushProviderMetadata(ctx, externalID, resolved); err != nil {
				s.recordFailure(ctx, record, direction, err)
				return nil, err
			}
			result.RoleChanged = providerResolved.Role != resolved.Role
			result.ApprovalChanged = providerResolved.Approved != resolved.Approved
		}

	default:
		return nil, fmt.Errorf("unknown sync direction: %s", direction)
	}

	// Profile fields always flow provider to database.
	nameBefore := record.DisplayName()
	result.ProfileChanged = s.adoptProfile(record, providerUser)

	record.LastSynced = s.now()
	record.SyncStatus = storage.SyncStatusOK
	record.AppendSyncHistory(storage.SyncHistoryEntry{
		Direction: string(direction),
		Changed:   result.Changed(),
		Timestamp: s.now(),
	})

	saved, err := s.users.SaveUser(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to save user %s: %w", externalID, err)
	}
	result.Role = saved.Role
	result.Approved = saved.Approved

	if result.RoleChanged || nameBefore != saved.DisplayName() || result.ProfileChanged {
		result.ListingsUpdated = s.refreshSnapshots(ctx, saved)
	}

	if result.Changed() {
		log.WithFields(map[string]interface{}{
			"role":             string(saved.Role),
			"approved":         saved.Approved,
			"listings_updated": result.ListingsUpdated,
		}).Info("user synchronized")
	}
	return result, nil
}

func (s *Synchronizer) fetchProviderUser(ctx context.Context, externalID string) (*identity.UserRecord, error) {
	var providerUser *identity.UserRecord
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		providerUser, err = s.provider.GetUser(ctx, externalID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider user %s: %w", externalID, err)
	}
	return providerUser, nil
}

func (s *Synchronizer) pushProviderMetadata(ctx context.Context, externalID string, resolved roles.ResolvedIdentity) error {
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		return s.provider.UpdateUserMetadata(ctx, externalID, identity.MetadataUpdate{
			Role:     resolved.Role,
			Approved: resolved.Approved,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to push metadata for %s: %w", externalID, err)
	}
	return nil
}

// adoptProfile copies provider profile fields into the record and reports
// whether anything changed.
func (s *Synchronizer) adoptProfile(record *storage.UserRecord, providerUser *identity.UserRecord) bool {
	changed := record.FirstName != providerUser.FirstName ||
		record.LastName != providerUser.LastName ||
		record.Email != providerUser.Email ||
		record.ImageURL != providerUser.ImageURL
	record.FirstName = providerUser.FirstName
	record.LastName = providerUser.LastName
	record.Email = providerUser.Email
	record.ImageURL = providerUser.ImageURL
	return changed
}

// refreshSnapshots fans the user's current snapshot out to their listings
// and drops the author's cached listings. Fan-out failure is logged, not
// fatal: the next pass retries it.
func (s *Synchronizer) refreshSnapshots(ctx context.Context, record *storage.UserRecord) int64 {
	snapshot := record.Snapshot()

	var count int64
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		count, err = s.listings.UpdateManyByAuthor(ctx, record.ExternalID, snapshot)
		if err == nil {
			break
		}
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.SnapshotUpdatesTotal.WithLabelValues("failure").Inc()
		}
		s.logger.WithError(err).WithField("user_id", record.ExternalID).Error("listing snapshot fan-out failed")
		return 0
	}
	if s.metrics != nil {
		s.metrics.SnapshotUpdatesTotal.WithLabelValues("success").Inc()
	}

	if s.cache != nil {
		if err := s.cache.InvalidateAuthor(ctx, record.ExternalID); err != nil {
			s.logger.WithError(err).WithField("user_id", record.ExternalID).Warn("listing cache invalidation failed")
		}
	}
	return count
}

// recordFailure marks the record's sync bookkeeping after a failed push.
// Best effort; the original error is what the caller sees.
func (s *Synchronizer) recordFailure(ctx context.Context, record *storage.UserRecord, direction Direction, cause error) {
	record.SyncStatus = storage.SyncStatusFailed
	record.AppendSyncHistory(storage.SyncHistoryEntry{
		Direction: string(direction),
		Error:     cause.Error(),
		Timestamp: s.now(),
	})
	if _, err := s.users.SaveUser(ctx, record); err != nil {
		s.logger.WithError(err).WithField("user_id", record.ExternalID).Warn("failed to record sync failure")
	}
}
