package session

import (
	"context"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	pkgerrors "github.com/pkg/errors"
)

const (
	defaultJWTTTL       = 120 * time.Second
	defaultJWTAlgorithm = "HS512"
	bearerScheme        = "Bearer"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// JWTConfig configures the self-contained signed-token variant.
type JWTConfig struct {
	Autorefresh bool
	TTL         time.Duration // claim lifetime, defaults to 120s
	SecretKey   string        // HMAC signing key, required
	Algorithm   string        // HS256, HS384 or HS512; defaults to HS512
}

// JWTSession carries its whole payload in a signed bearer token. No server
// side state is kept, and no opaque token is minted: the session stays Null,
// so the transport never writes it back (the bearer token is client managed).
type JWTSession struct {
	base
	secretKey string
	method    *jwtlib.SigningMethodHMAC
}

var _ Session = (*JWTSession)(nil)

// NewJWTSession builds a session from a transported Authorization value, or
// an anonymous one when token is empty.
func NewJWTSession(ctx context.Context, token string, config JWTConfig) (*JWTSession, error) {
	if config.SecretKey == "" {
		return nil, pkgerrors.New("[NewJWTSession] missing secret key")
	}

	method, err := hmacMethod(config.Algorithm)
	if err != nil {
		return nil, err
	}

	ttl := config.TTL
	if ttl == 0 {
		ttl = defaultJWTTTL
	}

	s := &JWTSession{
		base:      base{refresh: config.Autorefresh, ttl: ttl},
		secretKey: config.SecretKey,
		method:    method,
	}
	if token != "" {
		if err := s.Decode(ctx, token); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// JWTFactory returns a Factory minting this variant. The config is checked
// once up front so a bad deployment fails at composition, not per request.
func JWTFactory(config JWTConfig) (Factory, error) {
	if _, err := NewJWTSession(context.Background(), "", config); err != nil {
		return nil, err
	}
	return func(ctx context.Context, token string) (Session, error) {
		return NewJWTSession(ctx, token, config)
	}, nil
}

// Decode expects a "Bearer <jws>" value, verifies the signature and loads the
// claims as the session payload. Expiry is deliberately not checked here;
// Validate owns that, so an expired token decodes fine but will not validate.
func (s *JWTSession) Decode(_ context.Context, token string) error {
	scheme, raw, found := strings.Cut(token, " ")
	if !found || scheme != bearerScheme || raw == "" {
		return pkgerrors.Wrap(ErrSession, "invalid authorization scheme")
	}
	if strings.Count(raw, ".") != 2 {
		return pkgerrors.Wrap(ErrSession, "malformed token structure")
	}

	claims := jwtlib.MapClaims{}
	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{s.method.Alg()}),
		jwtlib.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return []byte(s.secretKey), nil
	}); err != nil {
		return pkgerrors.Wrap(ErrSession, err.Error())
	}

	s.value = map[string]any(claims)
	return nil
}

// Encode injects iat/exp claims into the payload and signs it. The result is
// self-describing; no identifier is minted.
func (s *JWTSession) Encode(_ context.Context) (string, error) {
	now := NowTimeFunc()
	claims := make(jwtlib.MapClaims, len(s.value)+2)
	for k, v := range s.value {
		claims[k] = v
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(s.ttl).Unix()

	signed, err := jwtlib.NewWithClaims(s.method, claims).SignedString([]byte(s.secretKey))
	if err != nil {
		return "", pkgerrors.Wrap(err, "[JWTSession.Encode] sign token")
	}
	return signed, nil
}

// Validate requires a payload with an unexpired exp claim.
func (s *JWTSession) Validate() bool {
	if len(s.value) == 0 {
		return false
	}
	exp, ok := claimUnix(s.value["exp"])
	if !ok {
		return false
	}
	return exp > NowTimeFunc().Unix()
}

// New stores the payload for Encode to sign. No token is minted, so the
// session stays Null and cookie-style persistence never applies.
func (s *JWTSession) New(value map[string]any) {
	s.start("", value)
}

func claimUnix(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func hmacMethod(algorithm string) (*jwtlib.SigningMethodHMAC, error) {
	switch algorithm {
	case "", defaultJWTAlgorithm:
		return jwtlib.SigningMethodHS512, nil
	case "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	default:
		return nil, pkgerrors.Errorf("[session] unsupported JWT algorithm %q", algorithm)
	}
}
