// Package roles defines the role taxonomy for the listing platform: the
// closed set of roles, their privilege hierarchy, the legal role-transition
// matrix, and the resolver that derives a user's effective role and approval
// state from either the identity provider's record or the database record.
//
// Everything in this package is pure: no I/O, no external calls. The
// resolver never returns an error; unknown or missing input degrades to the
// least privileged role so that a malformed record can never break a page
// render or grant privilege by accident.
package roles
