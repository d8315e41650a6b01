package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings read once at process startup. Feature flags are
// deliberately not part of this struct — they're re-read from the
// environment on every call (see AutopilotJobsEnabled and friends below
// for when a change takes effect).
type Config struct {
	Env  string
	Port int

	DBURL string

	WorkerID           string
	PollInterval       time.Duration
	HeartbeatInterval  time.Duration
	ClaimLimit         int
	PolicyTokenSecrets [][]byte

	AdminUsername     string
	AdminPasswordHash string
	AdminTokenSecret  string
}

func Load() Config {
	env := getEnv("APP_ENV", "dev")
	port := getEnvInt("PORT", 8080)
	dbURL := buildDBURL()

	return Config{
		Env:  env,
		Port: port,

		DBURL: dbURL,

		WorkerID:           getEnv("WORKER_ID", ""),
		PollInterval:       getEnvMillis("POLL_INTERVAL_MS", 2000),
		HeartbeatInterval:  getEnvMillis("HEARTBEAT_INTERVAL_MS", 30000),
		ClaimLimit:         getEnvInt("CLAIM_LIMIT", 10),
		PolicyTokenSecrets: policyTokenSecrets(),

		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		AdminTokenSecret:  getEnv("ADMIN_TOKEN_SECRET", ""),
	}
}

// buildDBURL prefers STORE_URL verbatim; falling back to composing one from
// the individual DB_* parts keeps local dev working without a full
// connection string.
func buildDBURL() string {
	if v := os.Getenv("STORE_URL"); v != "" {
		return v
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "jobforge")
	pass := getEnv("DB_PASSWORD", "jobforge")
	name := getEnv("DB_NAME", "jobforge")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

// policyTokenSecrets returns the configured verification keys newest-first:
// POLICY_TOKEN_SECRET is the current signing secret, POLICY_TOKEN_SECRET_ROTATIONS
// is an optional comma-separated list of older secrets kept around so
// tokens signed before a rotation still verify until they expire.
func policyTokenSecrets() [][]byte {
	var secrets [][]byte
	if v := os.Getenv("POLICY_TOKEN_SECRET"); v != "" {
		secrets = append(secrets, []byte(v))
	}
	if v := os.Getenv("POLICY_TOKEN_SECRET_ROTATIONS"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				secrets = append(secrets, []byte(part))
			}
		}
	}
	return secrets
}

// AutopilotJobsEnabled, ActionJobsEnabled, BundleTriggersEnabled and
// IntegrationDryRun read the environment on every call rather than being
// cached on Config. ActionJobsEnabled and BundleTriggersEnabled are called
// per request/job, so a change takes effect without a process restart;
// AutopilotJobsEnabled is read once when the bundle executor registers its
// handler and IntegrationDryRun once when the executor is built, so a
// change to either takes effect at the next process start.

func AutopilotJobsEnabled() bool {
	return getEnvBool("AUTOPILOT_JOBS_ENABLED", false)
}

func ActionJobsEnabled() bool {
	return getEnvBool("ACTION_JOBS_ENABLED", false)
}

func BundleTriggersEnabled() bool {
	return getEnvBool("BUNDLE_TRIGGERS_ENABLED", false)
}

func IntegrationDryRun() bool {
	return getEnvBool("INTEGRATION_DRY_RUN", true)
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvMillis(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}

// getEnvBool returns fallback for an unset or empty variable, otherwise the
// value as parsed by strconv.ParseBool; an unparseable value falls back rather than
// panicking, since a misconfigured flag should fail safe, not crash.
func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
