package session

import "errors"

var (
	// ErrStaleSession is returned when a workspace switch could not be
	// confirmed within the affinity timeout. Callers must not proceed on
	// the unconfirmed workspace.
	ErrStaleSession = errors.New("stale session")

	// ErrNotMember is returned when a bind targets a workspace the user is
	// not a member of.
	ErrNotMember = errors.New("not a workspace member")
)
