// Package permissions computes and caches effective permission sets.
//
// A user's permissions are the defaults for their effective role plus any
// individual grants on their database record, minus grants that have
// expired. Computed sets are cached with a TTL; every write path that can
// change a user's permissions invalidates the cache entry before
// returning, so a validation issued after a revocation never sees the old
// set.
package permissions
