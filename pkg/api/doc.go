// Package api wires the HTTP surface: router construction, request-id and
// logging middleware, the authenticated and admin-gated subrouters, and
// the separate health/metrics mux. Handlers live with their domains
// (pkg/rolechange, pkg/permissions); this package only mounts them.
package api
