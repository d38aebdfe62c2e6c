// Package config loads the control plane's process configuration from
// environment variables, following the teacher's getEnvOrDefault
// pattern (see pkg/database.LoadConfigFromEnv) rather than a flags or
// YAML-registry scheme.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentctl/sentryd/pkg/database"
)

// Config is the full process configuration.
type Config struct {
	Database database.Config

	HTTPAddr string

	PolicyKillSwitchExternalWrite bool
	PolicyEnforcementMode         string

	EgressMaxRequestsPerHour int

	RunWorkerEnabled      bool
	RunWorkerPollInterval time.Duration
	RunWorkerBatchLimit   int
	RunWorkerLeaseTTL     time.Duration

	SnapshotJobEnabled bool
	SnapshotSchedule   string

	PromotionLoopEnabled bool
}

// Load reads .env (if present, silently ignored if not) and then the
// process environment into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("load database config: %w", err)
	}

	maxPerHour, err := strconv.Atoi(getEnvOrDefault("EGRESS_MAX_REQUESTS_PER_HOUR", "100"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid EGRESS_MAX_REQUESTS_PER_HOUR: %w", err)
	}

	pollInterval, err := time.ParseDuration(getEnvOrDefault("RUN_WORKER_POLL_INTERVAL", "2s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RUN_WORKER_POLL_INTERVAL: %w", err)
	}
	batchLimit, err := strconv.Atoi(getEnvOrDefault("RUN_WORKER_BATCH_LIMIT", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RUN_WORKER_BATCH_LIMIT: %w", err)
	}
	leaseTTL, err := time.ParseDuration(getEnvOrDefault("RUN_WORKER_LEASE_TTL", "5m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RUN_WORKER_LEASE_TTL: %w", err)
	}

	cfg := Config{
		Database: dbCfg,
		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8080"),

		PolicyKillSwitchExternalWrite: getEnvBool("POLICY_KILL_SWITCH_EXTERNAL_WRITE", false),
		PolicyEnforcementMode:         getEnvOrDefault("POLICY_ENFORCEMENT_MODE", "enforce"),

		EgressMaxRequestsPerHour: maxPerHour,

		RunWorkerEnabled:      getEnvBool("RUN_WORKER_ENABLED", true),
		RunWorkerPollInterval: pollInterval,
		RunWorkerBatchLimit:   batchLimit,
		RunWorkerLeaseTTL:     leaseTTL,

		SnapshotJobEnabled: getEnvBool("SNAPSHOT_JOB_ENABLED", true),
		SnapshotSchedule:   getEnvOrDefault("SNAPSHOT_SCHEDULE", "15 0 * * *"),

		PromotionLoopEnabled: getEnvBool("PROMOTION_LOOP_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field and domain constraints not already
// covered by database.Config.Validate.
func (c Config) Validate() error {
	if c.PolicyEnforcementMode != "enforce" && c.PolicyEnforcementMode != "observe" {
		return fmt.Errorf("POLICY_ENFORCEMENT_MODE must be %q or %q, got %q", "enforce", "observe", c.PolicyEnforcementMode)
	}
	if c.EgressMaxRequestsPerHour < 1 {
		return fmt.Errorf("EGRESS_MAX_REQUESTS_PER_HOUR must be at least 1")
	}
	if c.RunWorkerBatchLimit < 1 {
		return fmt.Errorf("RUN_WORKER_BATCH_LIMIT must be at least 1")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}
