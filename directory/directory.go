// Package directory defines the external credential store the login flow
// authenticates against (typically an LDAP service).
package directory

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentials means the backend rejected the login/password
	// pair. Expected and common; drives the failed-attempt counter.
	ErrInvalidCredentials = errors.New("directory: invalid credentials")

	// ErrUnavailable means the backend could not be reached or failed
	// unexpectedly. Infrastructure class, distinct from a credential failure.
	ErrUnavailable = errors.New("directory: service unavailable")
)

// User is the record the directory returns for an authenticated login. The
// fields are backend defined and pass through as display/session data; when
// the second factor is enabled the record must carry FieldTOTPSecret.
type User map[string]string

const (
	FieldTOTPSecret = "totp_secret"
	FieldDN         = "dn"
)

// Get returns the named field and whether it is present.
func (u User) Get(field string) (string, bool) {
	v, ok := u[field]
	return v, ok
}

// TOTPSecret returns the second-factor shared secret, empty when unset.
func (u User) TOTPSecret() string {
	return u[FieldTOTPSecret]
}

// Directory authenticates credentials against the backing store. Calls carry
// a context so the transport can enforce a connect timeout; a timeout is
// reported as ErrUnavailable. Implementations must be safe for concurrent
// calls from multiple request handlers.
type Directory interface {
	Authenticate(ctx context.Context, login, password string) (User, error)
}
