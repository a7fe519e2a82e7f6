package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rjantos/go-session-gate/cache"
)

const defaultCacheTTL = 600 * time.Second

// CacheConfig configures the cache-backed variant.
type CacheConfig struct {
	Autorefresh bool          // refresh default for decoded sessions
	TTL         time.Duration // payload lifetime, defaults to 600s
	Namespace   string        // cache key prefix, e.g. the application name
}

// CacheSession stores the payload in the shared cache under an opaque
// high-entropy token; only the token travels to the client.
type CacheSession struct {
	base
	store     cache.Store
	namespace string
}

var _ Session = (*CacheSession)(nil)

// NewCacheSession builds a session from a transported token, or an anonymous
// one when token is empty. A cache miss for a supplied token is not an error;
// the session simply will not validate.
func NewCacheSession(ctx context.Context, token string, config CacheConfig, store cache.Store) (*CacheSession, error) {
	ttl := config.TTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}

	s := &CacheSession{
		base:      base{refresh: config.Autorefresh, ttl: ttl},
		store:     store,
		namespace: config.Namespace,
	}
	if token != "" {
		if err := s.Decode(ctx, token); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CacheFactory returns a Factory minting this variant.
func CacheFactory(config CacheConfig, store cache.Store) Factory {
	return func(ctx context.Context, token string) (Session, error) {
		return NewCacheSession(ctx, token, config, store)
	}
}

// Decode treats token as the cache key and loads the stored payload. Only an
// unexpected backend failure is an error; a missing key leaves the payload
// empty.
func (s *CacheSession) Decode(ctx context.Context, token string) error {
	s.token = token

	raw, found, err := s.store.Get(ctx, s.key(token))
	if err != nil {
		return pkgerrors.Wrap(ErrSession, err.Error())
	}
	if !found {
		s.value = nil
		return nil
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return pkgerrors.Wrap(ErrSession, "corrupt session payload")
	}
	s.value = value
	return nil
}

// Encode writes the payload into the cache under the current token with the
// configured TTL and returns the token for the transport to carry.
func (s *CacheSession) Encode(ctx context.Context) (string, error) {
	raw, err := json.Marshal(s.value)
	if err != nil {
		return "", pkgerrors.Wrap(err, "[CacheSession.Encode] marshal payload")
	}
	if err := s.store.Set(ctx, s.key(s.token), string(raw), s.ttl); err != nil {
		return "", pkgerrors.Wrap(err, "[CacheSession.Encode] store payload")
	}
	return s.token, nil
}

// Validate requires both an identity and a stored payload.
func (s *CacheSession) Validate() bool {
	return s.token != "" && s.value != nil
}

// New starts a fresh authenticated session under a new opaque token.
func (s *CacheSession) New(value map[string]any) {
	s.start(uuid.New().String(), value)
}

func (s *CacheSession) key(token string) string {
	return s.namespace + "/session/" + token
}
