package main

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/estateloop/estateloop/pkg/identity"
	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/storage"
	syncpkg "github.com/estateloop/estateloop/pkg/sync"
)

// Summary aggregates one reconciliation pass over all provider users.
type Summary struct {
	Scanned int64
	Changed int64
	Skipped int64
	Failed  int64
}

// Reconciler pages through every provider user and reconciles each one
// with a bounded worker pool.
type Reconciler struct {
	provider     identity.Client
	synchronizer *syncpkg.Synchronizer
	direction    syncpkg.Direction
	driftOnly    bool
	batchSize    int
	workers      int
	log          *logrus.Logger
}

// Run executes one full pass. Per-user failures are counted and logged,
// never fatal: one bad record must not stall the rest of the batch.
func (r *Reconciler) Run(ctx context.Context) Summary {
	start := time.Now()
	var summary Summary

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)

	offset := 0
	for {
		page, err := r.provider.ListUsers(ctx, r.batchSize, offset)
		if err != nil {
			r.log.WithError(err).Error("Failed to list provider users, aborting pass")
			atomic.AddInt64(&summary.Failed, 1)
			break
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		for _, user := range page {
			userID := user.ID
			atomic.AddInt64(&summary.Scanned, 1)
			group.Go(func() error {
				// A panicking worker counts as a failure; it must not
				// take down the rest of the pool.
				defer func() {
					if err := observability.MustRecover(recover()); err != nil {
						atomic.AddInt64(&summary.Failed, 1)
						r.log.WithError(err).WithField("user_id", userID).Error("Reconcile worker panicked")
					}
				}()
				r.reconcileUser(groupCtx, userID, &summary)
				return nil
			})
		}
	}

	group.Wait()

	r.log.WithFields(logrus.Fields{
		"scanned":  summary.Scanned,
		"changed":  summary.Changed,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
		"duration": time.Since(start).String(),
	}).Info("Reconciliation pass complete")
	return summary
}

func (r *Reconciler) reconcileUser(ctx context.Context, userID string, summary *Summary) {
	if r.driftOnly {
		report, err := r.synchronizer.Drift(ctx, userID)
		if err != nil {
			atomic.AddInt64(&summary.Failed, 1)
			r.log.WithError(err).WithField("user_id", userID).Warn("Drift check failed")
			return
		}
		if !report.InSync {
			atomic.AddInt64(&summary.Changed, 1)
			r.log.WithFields(logrus.Fields{
				"user_id": userID,
				"details": report.Details,
			}).Info("Drift detected")
		}
		return
	}

	result, err := r.synchronizer.SyncUser(ctx, userID, r.direction)
	switch {
	case errors.Is(err, syncpkg.ErrNoProviderRole):
		// Provider record has nothing to adopt; not an error.
		atomic.AddInt64(&summary.Skipped, 1)
	case errors.Is(err, storage.ErrNotFound):
		// Provider-only user under db-wins; nothing to push.
		atomic.AddInt64(&summary.Skipped, 1)
	case err != nil:
		atomic.AddInt64(&summary.Failed, 1)
		r.log.WithError(err).WithField("user_id", userID).Warn("Sync failed")
	case result.Changed():
		atomic.AddInt64(&summary.Changed, 1)
	}
}
