package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoginConfigDefaults(t *testing.T) {
	c := Login{}

	require.Equal(t, "login-password.html", c.GetLoginPasswordTemplate())
	require.Equal(t, "login-2fa-totp.html", c.GetLoginTOTPTemplate())
	require.Equal(t, 5*time.Second, c.GetDirectoryTimeout())
	require.Equal(t, "/home", c.GetLoginTargetPath())
	require.Equal(t, 4, c.GetRateLimitMax())
	require.Equal(t, 900*time.Second, c.GetRateLimitWindow())
}

func TestLoginConfigFromEnvironment(t *testing.T) {
	t.Setenv("LOGIN_PASSWORD_TEMPLATE", "custom/password.html")
	t.Setenv("LOGIN_TOTP_TEMPLATE", "custom/totp.html")
	t.Setenv("DIRECTORY_TIMEOUT_SECONDS", "12")

	c := Login{}
	require.Equal(t, "custom/password.html", c.GetLoginPasswordTemplate())
	require.Equal(t, "custom/totp.html", c.GetLoginTOTPTemplate())
	require.Equal(t, 12*time.Second, c.GetDirectoryTimeout())
}

func TestDirectoryTimeoutRejectsMalformedValue(t *testing.T) {
	t.Setenv("DIRECTORY_TIMEOUT_SECONDS", "soon")

	require.Equal(t, 5*time.Second, Login{}.GetDirectoryTimeout())
}
