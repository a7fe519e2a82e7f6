package config

import (
	"strconv"
	"time"
)

type SessionConfig interface {
	GetSessionVariant() string
	GetSessionCookieName() string
	GetSessionTTL() time.Duration
	GetSessionAutorefresh() bool
	GetJWTSecretKey() string
	GetJWTAlgorithm() string
	GetJWTSessionTTL() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetSessionVariant selects how sessions are stored and transported:
// "cache" (payload in redis, opaque cookie token) or "jwt" (signed bearer
// token in the Authorization header).
func (Session) GetSessionVariant() string {
	return GetEnv("SESSION_VARIANT", "cache")
}

func (Session) GetSessionCookieName() string {
	return GetEnv("SESSION_COOKIE_NAME", "gate_session")
}

func (Session) GetSessionTTL() time.Duration {
	return durationEnv("SESSION_TTL_SECONDS", 600)
}

func (Session) GetSessionAutorefresh() bool {
	return boolEnv("SESSION_AUTOREFRESH", false)
}

// GetJWTSecretKey has no default on purpose; deployments using the JWT
// session variant must set it explicitly.
func (Session) GetJWTSecretKey() string {
	return GetEnv("JWT_SECRET_KEY", "")
}

func (Session) GetJWTAlgorithm() string {
	return GetEnv("JWT_ALGORITHM", "HS512")
}

func (Session) GetJWTSessionTTL() time.Duration {
	return durationEnv("JWT_SESSION_TTL_SECONDS", 120)
}

func durationEnv(envVar string, defaultSeconds int) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return time.Duration(defaultSeconds) * time.Second
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return time.Duration(defaultSeconds) * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func boolEnv(envVar string, defaultValue bool) bool {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func intEnv(envVar string, defaultValue int) int {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
