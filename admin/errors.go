package admin

import "errors"

var (
	// ErrUnauthorized means the request carries no administrative
	// authority at all.
	ErrUnauthorized = errors.New("administrative authority required")

	// ErrForbidden means the request is authenticated but its user does
	// not hold the deployment-admin grant.
	ErrForbidden = errors.New("deployment admin grant required")

	// ErrMisconfiguredSecret means this deployment must be given a token
	// secret externally and none is present. Every operation that needs
	// the secret fails until the operator provides one.
	ErrMisconfiguredSecret = errors.New("admin token secret not configured")

	// ErrInvalidToken covers malformed, tampered or wrongly signed
	// privileged tokens.
	ErrInvalidToken = errors.New("invalid admin token")

	// ErrTokenExpired marks a well-formed privileged token whose lifetime
	// has passed.
	ErrTokenExpired = errors.New("admin token expired")
)
