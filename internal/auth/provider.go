package auth

import (
	"context"
	"errors"
)

var (
	// ErrCredentialsRejected indicates the provider could not verify the
	// submitted credential.
	ErrCredentialsRejected = errors.New("auth: credentials rejected")
)

// Verified is the normalized identity a login provider hands back after
// successful credential verification. Downstream code depends only on this,
// never on provider internals.
type Verified struct {
	Subject  string
	Username string
}

// Provider verifies a login credential in whatever form the provider issues
// it (an ID token, a username/password pair) and resolves it to a normalized
// user identity.
type Provider interface {
	Name() string
	VerifyCredentials(ctx context.Context, credential string) (Verified, error)
}
