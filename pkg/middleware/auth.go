package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/estateloop/estateloop/pkg/contextkeys"
	"github.com/estateloop/estateloop/pkg/httputil"
	"github.com/estateloop/estateloop/pkg/identity"
	"github.com/estateloop/estateloop/pkg/observability"
	"github.com/estateloop/estateloop/pkg/permissions"
	"github.com/estateloop/estateloop/pkg/roles"
)

// TokenVerifier validates a raw bearer token and returns the verified ID
// token. *oidc.IDTokenVerifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Session is the authenticated caller attached to the request context.
type Session struct {
	UserID   string
	Identity roles.ResolvedIdentity
}

// Dashboard returns the dashboard route for the session's role.
func (s *Session) Dashboard() roles.Dashboard {
	return s.Identity.DashboardForRole()
}

// Authenticator is the auth front door.
type Authenticator struct {
	verifier TokenVerifier
	provider identity.Client
	logger   *observability.Logger
}

// NewAuthenticator creates the auth middleware.
func NewAuthenticator(verifier TokenVerifier, provider identity.Client, logger *observability.Logger) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		provider: provider,
		logger:   logger,
	}
}

// NewOIDCVerifier builds a token verifier against the provider's issuer.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (TokenVerifier, error) {
	oidcProvider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, err
	}
	return oidcProvider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// Authenticate verifies the bearer token and attaches a Session. The
// token's subject is the provider user id; the role comes from the
// provider record, not from token claims, so a stale token never carries
// a revoked role.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, ok := bearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "missing or malformed authorization header")
			return
		}

		idToken, err := a.verifier.Verify(r.Context(), rawToken)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid token")
			return
		}

		session := &Session{
			UserID:   idToken.Subject,
			Identity: a.resolveRole(r.Context(), idToken.Subject),
		}

		ctx := contextkeys.WithSession(r.Context(), session)
		ctx = contextkeys.WithUserID(ctx, session.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveRole loads the caller's provider record. Any failure degrades to
// an unapproved plain user rather than blocking the request.
func (a *Authenticator) resolveRole(ctx context.Context, userID string) roles.ResolvedIdentity {
	providerUser, err := a.provider.GetUser(ctx, userID)
	if err != nil {
		a.logger.WithError(err).WithField("user_id", userID).Warn("role resolution failed, degrading to user")
		return roles.ResolvedIdentity{Role: roles.RoleUser}
	}
	return providerUser.Resolve()
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// SessionFromContext returns the session attached by Authenticate.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(contextkeys.SessionKey).(*Session)
	return session, ok
}

// RequireAdmin rejects callers whose resolved role is not admin or super
// admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFromContext(r.Context())
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !session.Identity.IsAdmin() {
			httputil.WriteForbidden(w, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission rejects callers who do not hold the permission
// according to the permission engine.
func RequirePermission(engine *permissions.Engine, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := SessionFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			allowed, err := engine.ValidatePermission(r.Context(), session.UserID, permission)
			if err != nil {
				httputil.WriteInternalError(w, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "permission required: "+permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
