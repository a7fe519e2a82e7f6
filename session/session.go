// Package session models a client's authentication state. A Session is built
// once per request from a transported token, may be promoted to a fresh
// authenticated session by the downstream handler, and is re-encoded into the
// response by the transport middleware.
//
// Two variants exist: CacheSession keeps the payload server side under an
// opaque token, JWTSession carries the payload in a signed self-contained
// token. Variants are selected at composition time through a Factory.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrSession is returned when a transported token cannot be decoded or
// verified. Always user-input class; the middleware answers 400.
var ErrSession = errors.New("session: invalid session token")

// Session is the behavior shared by all storage variants.
type Session interface {
	// Decode loads the session content from a transported token. Implemented
	// per variant; constructors call it when a token is supplied.
	Decode(ctx context.Context, token string) error

	// Encode produces the representation to persist on the response and
	// returns the string the transport should carry.
	Encode(ctx context.Context) (string, error)

	// Validate reports whether the decoded content represents a live
	// authenticated session.
	Validate() bool

	// New promotes the session to a freshly authenticated one carrying
	// value, and marks it for persistence.
	New(value map[string]any)

	// Null reports whether no session identity is present.
	Null() bool

	// Refresh reports whether the transport must persist this session on
	// the outbound response.
	Refresh() bool

	TTL() time.Duration
	Token() string
	Value() map[string]any

	// Get looks up a single payload field.
	Get(field string) (any, bool)
}

// Factory builds the configured Session variant from a raw transported token
// (empty string for an anonymous session). The middleware uses it so the
// variant stays a composition-time choice.
type Factory func(ctx context.Context, token string) (Session, error)

// base carries the state common to every variant.
type base struct {
	refresh bool
	ttl     time.Duration
	token   string
	value   map[string]any
}

func (b *base) Null() bool            { return b.token == "" }
func (b *base) Refresh() bool         { return b.refresh }
func (b *base) TTL() time.Duration    { return b.ttl }
func (b *base) Token() string         { return b.token }
func (b *base) Value() map[string]any { return b.value }

func (b *base) Get(field string) (any, bool) {
	if b.value == nil {
		return nil, false
	}
	v, ok := b.value[field]
	return v, ok
}

// start replaces the session state with a fresh authenticated one. Every
// freshly established session is persisted, so refresh is forced on.
func (b *base) start(token string, value map[string]any) {
	b.refresh = true
	b.token = token
	b.value = value
}
