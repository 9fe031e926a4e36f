// Package identity is the client for the external identity provider. The
// provider owns authentication and a small per-user metadata blob holding
// the role and approval flag; the application only reads records and
// requests metadata updates, it never constructs provider records itself.
//
// Every provider failure is categorized (not found, rate limited,
// connection failed, unknown) before it leaves this package, so callers can
// decide whether to retry without inspecting transport errors.
package identity
