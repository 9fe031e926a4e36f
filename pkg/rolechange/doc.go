// Package rolechange orchestrates applying a role change across both
// systems.
//
// A change is validated against the transition matrix and the acting
// admin's privilege, applied to the database record (the source of
// truth), pushed to the identity provider, fanned out to listing author
// snapshots, audited, and the permission cache entry dropped. The
// database write is the commit point: a provider push failure leaves the
// record marked sync-failed for the batch reconciler to repair rather
// than rolling the change back.
package rolechange
