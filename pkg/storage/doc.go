// Package storage defines the application database's view of users,
// listings and permission bundles, plus the store interfaces the core
// depends on. The database is a document store: user records are persisted
// whole and carry their own sync bookkeeping, role history and permission
// overrides.
//
// The postgres subpackage is the production implementation (JSONB document
// columns over lib/pq). MemoryStore in this package backs unit tests.
package storage
