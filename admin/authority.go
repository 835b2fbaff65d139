package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbartlett/gatehouse/session"
)

// SessionResolver yields the live context for a session credential.
// Implementations must consult the identity store on every call and never
// cache, so grant changes are visible on the very next request.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (session.Context, error)
}

// Resolver derives the administrative context for a request from its
// credentials.
type Resolver struct {
	tokens   *TokenAuthority
	sessions SessionResolver
}

// NewResolver wires the authority resolver to its credential verifiers.
func NewResolver(tokens *TokenAuthority, sessions SessionResolver) *Resolver {
	return &Resolver{tokens: tokens, sessions: sessions}
}

// Resolve applies the precedence order. A valid privileged token yields
// SuperAdmin and always wins. Otherwise an authenticated session whose user
// holds the deployment-admin grant, re-read from the identity store now,
// yields WorkspaceAdmin. ErrUnauthorized and ErrForbidden report the two
// refusal cases; a missing token secret fails the whole resolution closed.
func (r *Resolver) Resolve(ctx context.Context, privilegedToken, sessionToken string) (Context, error) {
	if privilegedToken != "" {
		username, err := r.tokens.Verify(privilegedToken)
		if err == nil {
			return SuperAdmin{Username: username}, nil
		}
		if errors.Is(err, ErrMisconfiguredSecret) {
			return nil, err
		}
		// An invalid or expired privileged token falls through to the
		// session path rather than locking out a signed-in admin.
	}

	sess, err := r.sessions.Resolve(ctx, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	if !sess.Authenticated {
		return nil, ErrUnauthorized
	}
	if !sess.DeploymentAdmin {
		return nil, ErrForbidden
	}
	return WorkspaceAdmin{Session: sess}, nil
}
