// Package middleware provides the HTTP auth front door and request
// gating for the estateloop API.
//
// Authenticate verifies the bearer token against the identity provider's
// OIDC issuer, resolves the caller's role from provider metadata, and
// attaches a Session to the request context. Resolution is fail-open on
// role: a caller whose role cannot be resolved proceeds as a plain user,
// never with elevated access. RequireAdmin and RequirePermission gate
// routes on the attached session.
package middleware
