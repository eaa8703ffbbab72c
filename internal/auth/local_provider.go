package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

const localProviderName = "local"

var ErrInvalidLocalCredential = errors.New("auth: invalid local credential entry")

// LocalCredential is one statically configured login. Subject must be an
// integer-shaped identifier so local identities share the shape of
// provider-issued ones.
type LocalCredential struct {
	Subject  string
	Username string
	Password string
}

// LocalProvider verifies username/password pairs against a fixed table
// supplied through configuration. Intended for development and test setups.
type LocalProvider struct {
	byUsername map[string]LocalCredential
}

// NewLocalProvider constructs a provider from "subject:username:password"
// entries.
func NewLocalProvider(entries []string) (*LocalProvider, error) {
	byUsername := make(map[string]LocalCredential, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLocalCredential, entry)
		}
		credential := LocalCredential{
			Subject:  strings.TrimSpace(parts[0]),
			Username: strings.TrimSpace(parts[1]),
			Password: parts[2],
		}
		if credential.Subject == "" || credential.Username == "" || credential.Password == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLocalCredential, entry)
		}
		byUsername[credential.Username] = credential
	}
	return &LocalProvider{byUsername: byUsername}, nil
}

// Name identifies the provider in login routes.
func (p *LocalProvider) Name() string {
	return localProviderName
}

// VerifyCredentials checks a "username:password" credential against the
// configured table.
func (p *LocalProvider) VerifyCredentials(_ context.Context, credential string) (Verified, error) {
	username, password, ok := strings.Cut(credential, ":")
	if !ok {
		return Verified{}, ErrCredentialsRejected
	}
	stored, ok := p.byUsername[strings.TrimSpace(username)]
	if !ok {
		return Verified{}, ErrCredentialsRejected
	}
	if subtle.ConstantTimeCompare([]byte(stored.Password), []byte(password)) != 1 {
		return Verified{}, ErrCredentialsRejected
	}
	return Verified{Subject: stored.Subject, Username: stored.Username}, nil
}
