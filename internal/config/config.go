// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the orchestrator database (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	Budget    BudgetConfig
	Heartbeat HeartbeatConfig
	Dispatch  DispatchConfig
	Journal   JournalConfig
	Sysmon    SysmonConfig
	Backup    BackupConfig
}

// BudgetConfig holds token budget ceilings for autonomous work
type BudgetConfig struct {
	BackgroundHourlyTokens int
	BackgroundDailyTokens  int
	EnforceUserCaps        bool
	UserDailyTokens        int
}

// HeartbeatConfig holds the tick loop tunables
type HeartbeatConfig struct {
	Interval     time.Duration // Base tick interval
	Jitter       time.Duration // Random jitter added to each interval
	EvalDeadline time.Duration // Advisory soft deadline passed to evaluators
	WakeDelay    time.Duration // Debounce delay for external wake signals
}

// DispatchConfig holds dispatcher tunables
type DispatchConfig struct {
	UserHold time.Duration // Default trailing hold window after user activity
}

// JournalConfig holds change journal tunables
type JournalConfig struct {
	MaxEvents  int // Bounded ring size, oldest evicted first
	SummaryCap int // Max bytes retained from a payload summary
}

// SysmonConfig holds the built-in health producer settings
type SysmonConfig struct {
	Enabled     bool
	Interval    time.Duration
	CPUHighPct  float64
	MemHighPct  float64
}

// BackupConfig holds S3-compatible snapshot backup settings
type BackupConfig struct {
	Enabled   bool
	Endpoint  string // S3-compatible endpoint (e.g. Cloudflare R2)
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	KeepCount int // Backups retained during rotation
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("OVERSEER_DATA_DIR", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".overseer")
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("OVERSEER_PORT", 8040),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Budget: BudgetConfig{
			BackgroundHourlyTokens: getEnvAsInt("OVERSEER_BG_HOURLY_TOKENS", 120000),
			BackgroundDailyTokens:  getEnvAsInt("OVERSEER_BG_DAILY_TOKENS", 1200000),
			EnforceUserCaps:        getEnvAsBool("OVERSEER_ENFORCE_USER_CAPS", false),
			UserDailyTokens:        getEnvAsInt("OVERSEER_USER_DAILY_TOKENS", 0),
		},
		Heartbeat: HeartbeatConfig{
			Interval:     getEnvAsDuration("OVERSEER_TICK_INTERVAL", 30*time.Second),
			Jitter:       getEnvAsDuration("OVERSEER_TICK_JITTER", 5*time.Second),
			EvalDeadline: getEnvAsDuration("OVERSEER_EVAL_DEADLINE", 10*time.Second),
			WakeDelay:    getEnvAsDuration("OVERSEER_WAKE_DELAY", 250*time.Millisecond),
		},
		Dispatch: DispatchConfig{
			UserHold: getEnvAsDuration("OVERSEER_USER_HOLD", 15*time.Second),
		},
		Journal: JournalConfig{
			MaxEvents:  getEnvAsInt("OVERSEER_JOURNAL_MAX_EVENTS", 500),
			SummaryCap: getEnvAsInt("OVERSEER_JOURNAL_SUMMARY_CAP", 512),
		},
		Sysmon: SysmonConfig{
			Enabled:    getEnvAsBool("OVERSEER_SYSMON_ENABLED", true),
			Interval:   getEnvAsDuration("OVERSEER_SYSMON_INTERVAL", 1*time.Minute),
			CPUHighPct: getEnvAsFloat("OVERSEER_SYSMON_CPU_HIGH", 90),
			MemHighPct: getEnvAsFloat("OVERSEER_SYSMON_MEM_HIGH", 90),
		},
		Backup: BackupConfig{
			Enabled:   getEnvAsBool("OVERSEER_BACKUP_ENABLED", false),
			Endpoint:  getEnv("OVERSEER_BACKUP_ENDPOINT", ""),
			Region:    getEnv("OVERSEER_BACKUP_REGION", "auto"),
			Bucket:    getEnv("OVERSEER_BACKUP_BUCKET", ""),
			AccessKey: getEnv("OVERSEER_BACKUP_ACCESS_KEY", ""),
			SecretKey: getEnv("OVERSEER_BACKUP_SECRET_KEY", ""),
			KeepCount: getEnvAsInt("OVERSEER_BACKUP_KEEP", 7),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Budget.BackgroundHourlyTokens < 0 || c.Budget.BackgroundDailyTokens < 0 {
		return fmt.Errorf("budget ceilings must be non-negative")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("backup enabled but OVERSEER_BACKUP_BUCKET is empty")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
