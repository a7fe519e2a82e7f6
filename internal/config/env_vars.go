package config

import (
	"fmt"
	"os"
)

const (
	portEnvVar   = "PORT"
	appNameVar   = "APP_NAME"
	redisAddrVar = "REDIS_ADDR"
	namespaceVar = "CACHE_NAMESPACE"
	templatesVar = "TEMPLATES_DIR"
)

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetRedisAddr() string
	GetCacheNamespace() string
	GetTemplatesDir() string
	GetEnv() string
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Gate")
}

func (EnvVars) GetRedisAddr() string {
	return GetEnv(redisAddrVar, "localhost:6379")
}

// GetCacheNamespace prefixes every cache key this service writes, so one
// redis can serve several deployments.
func (EnvVars) GetCacheNamespace() string {
	return GetEnv(namespaceVar, "gate")
}

func (EnvVars) GetTemplatesDir() string {
	return GetEnv(templatesVar, "./templates")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
