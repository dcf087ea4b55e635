package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// AuthHeader is the HTTP header carrying the client credential.
const AuthHeader = "X-DFM-Auth"

// Authentication methods.
const (
	AuthNone   = "none"
	AuthAPIKey = "api_key"
)

// Settings carries the environment-driven service configuration shared by
// the Process, Scheduler, and Execute binaries.
type Settings struct {
	SiteName      string
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// UseFakeRedis switches the services to in-process bus and store
	// implementations, for tests and local development.
	UseFakeRedis    bool
	SiteConfigPath  string
	SiteSecretsPath string
	AuthMethod      string
	AuthAPIKey      string
}

// FromEnv reads the settings from the process environment, applying
// defaults for anything unset.
func FromEnv() Settings {
	return Settings{
		SiteName:        envOr("SITE_NAME", "localhost"),
		RedisHost:       envOr("REDIS_HOST", "localhost"),
		RedisPort:       envInt("REDIS_PORT", 6379),
		RedisDB:         envInt("REDIS_DB", 0),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		UseFakeRedis:    envBool("USE_FAKE_REDIS"),
		SiteConfigPath:  os.Getenv("SITE_CONFIG"),
		SiteSecretsPath: os.Getenv("SITE_SECRETS"),
		AuthMethod:      envOr("DFM_AUTH_METHOD", AuthNone),
		AuthAPIKey:      os.Getenv("DFM_AUTH_API_KEY"),
	}
}

// RedisOptions builds the go-redis connection options.
func (s Settings) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", s.RedisHost, s.RedisPort),
		DB:       s.RedisDB,
		Password: s.RedisPassword,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
