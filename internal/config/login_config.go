package config

import (
	"strings"
	"time"
)

type LoginConfig interface {
	GetLoginTokenSecretKey() string
	GetLoginTargetPath() string
	GetLoginPasswordTemplate() string
	GetLoginTOTPTemplate() string
	GetDirectoryTimeout() time.Duration
	GetUse2FA() bool
	GetTFASecretLength() int
	GetTFAPeriod() int
	GetTFADigits() int
	GetTFAAlgorithm() string
	GetRateLimitEnabled() bool
	GetRateLimitMax() int
	GetRateLimitWindow() time.Duration
	GetLanguages() []string
	GetDefaultLanguage() string
	GetLanguageOverrides() map[string]string
}

type Login struct{}

var _ LoginConfig = Login{}

// GetLoginTokenSecretKey keys the stage-1 to stage-2 carry-token. Required
// when 2FA is enabled.
func (Login) GetLoginTokenSecretKey() string {
	return GetEnv("LOGIN_TOKEN_SECRET_KEY", "")
}

func (Login) GetLoginTargetPath() string {
	return GetEnv("LOGIN_TARGET_PATH", "/home")
}

func (Login) GetLoginPasswordTemplate() string {
	return GetEnv("LOGIN_PASSWORD_TEMPLATE", "login-password.html")
}

func (Login) GetLoginTOTPTemplate() string {
	return GetEnv("LOGIN_TOTP_TEMPLATE", "login-2fa-totp.html")
}

// GetDirectoryTimeout bounds each directory authentication round trip; an
// exceeded deadline is treated as the directory being unavailable.
func (Login) GetDirectoryTimeout() time.Duration {
	return durationEnv("DIRECTORY_TIMEOUT_SECONDS", 5)
}

func (Login) GetUse2FA() bool {
	return boolEnv("LOGIN_USE_2FA", false)
}

func (Login) GetTFASecretLength() int {
	return intEnv("TFA_SECRET_LENGTH", 16)
}

func (Login) GetTFAPeriod() int {
	return intEnv("TFA_PERIOD", 30)
}

func (Login) GetTFADigits() int {
	return intEnv("TFA_DIGITS", 6)
}

func (Login) GetTFAAlgorithm() string {
	return GetEnv("TFA_ALGORITHM", "sha1")
}

func (Login) GetRateLimitEnabled() bool {
	return boolEnv("LOGIN_ATTEMPTS_TRACKING", true)
}

func (Login) GetRateLimitMax() int {
	return intEnv("LOGIN_ATTEMPTS_MAX", 4)
}

func (Login) GetRateLimitWindow() time.Duration {
	return durationEnv("LOGIN_ATTEMPTS_INTERVAL_SECONDS", 900)
}

func (Login) GetLanguages() []string {
	raw := GetEnv("LOGIN_LANGUAGES", "en")
	parts := strings.Split(raw, ",")
	languages := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			languages = append(languages, p)
		}
	}
	return languages
}

func (Login) GetDefaultLanguage() string {
	return GetEnv("LOGIN_DEFAULT_LANGUAGE", "en")
}

// GetLanguageOverrides parses "from=to" pairs, e.g. "cs=cz".
func (Login) GetLanguageOverrides() map[string]string {
	raw := GetEnv("LOGIN_LANGUAGE_OVERRIDES", "")
	overrides := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		from, to, found := strings.Cut(strings.TrimSpace(pair), "=")
		if found && from != "" && to != "" {
			overrides[from] = to
		}
	}
	return overrides
}
