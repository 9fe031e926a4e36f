// Package audit records role change events in an append-only trail.
//
// Every applied role change writes one event naming the user, the roles
// before and after, the acting admin, and the stated reason. The trail is
// write-mostly: nothing in the application updates or deletes entries.
// Audit failures never abort the change that triggered them; the caller
// logs and moves on.
package audit
