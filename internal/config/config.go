// Package config loads and validates deployment configuration from the
// environment. The core packages never read the environment themselves; they
// receive already-validated typed values assembled here.
package config

type Config interface {
	EnvConfig
	SessionConfig
	LoginConfig
}

type mainConfig struct {
	EnvVars
	Session
	Login
}

func New() Config {
	return mainConfig{}
}
