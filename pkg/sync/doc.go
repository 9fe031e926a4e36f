// Package sync reconciles user records between the identity provider and
// the application database.
//
// The database is the long-lived source of truth for authorization; the
// provider's metadata is a projection that browser sessions read. A
// reconciliation pass runs in one of two directions: db_to_identity
// pushes the database's role and approval into provider metadata, and
// identity_to_db adopts the provider's explicit role into the database.
// Profile fields (name, email, image) always flow provider to database,
// whatever the direction, because the provider owns profile editing.
//
// Whenever a pass changes anything that appears on listing pages, the
// denormalized author snapshots are fanned out to the user's listings and
// the listing cache entries for that author are dropped.
package sync
