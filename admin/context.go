// Package admin resolves administrative authority for a request. Authority
// comes from exactly one of two places: a privileged token minted for the
// deployment operator, or a signed-in session whose user holds the
// deployment-admin grant. A valid privileged token always wins.
package admin

import "github.com/pbartlett/gatehouse/session"

// Context identifies who is acting with administrative authority. The set is
// closed: SuperAdmin and WorkspaceAdmin are the only implementations.
type Context interface {
	// Subject is a stable identifier for audit records.
	Subject() string

	sealed()
}

// SuperAdmin is the deployment operator, authenticated by privileged token.
// It exists independently of any user account or session.
type SuperAdmin struct {
	Username string
}

func (SuperAdmin) sealed() {}

// Subject returns the operator username.
func (a SuperAdmin) Subject() string { return a.Username }

// WorkspaceAdmin is a signed-in user holding the deployment-admin grant. The
// embedded session context reflects the identity store at resolution time.
type WorkspaceAdmin struct {
	Session session.Context
}

func (WorkspaceAdmin) sealed() {}

// Subject returns the acting user's id.
func (a WorkspaceAdmin) Subject() string {
	if a.Session.User == nil {
		return ""
	}
	return a.Session.User.ID
}
