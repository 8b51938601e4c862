package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Logging   LoggingConfig
	Optimizer OptimizerConfig
	Audit     AuditConfig
	Dispatch  DispatchConfig
	Fixtures  FixturesConfig
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

// OptimizerConfig carries the solver defaults. The horizon is clamped to
// eight hours; longer windows make occupancy projection meaningless.
type OptimizerConfig struct {
	HorizonMinutes int
	DelayStepMin   int
	MaxDelayMin    int
	MaxIterations  int
	TimeBudget     time.Duration
	EnableReroute  bool
	Seed           int64
}

// AuditConfig selects where mutation records and snapshots go.
// Driver is one of "memory", "sqlite", "postgres".
type AuditConfig struct {
	Driver     string
	SQLitePath string
	Postgres   PostgresConfig
	Retention  time.Duration
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DispatchConfig controls the periodic optimization cycle.
type DispatchConfig struct {
	CycleInterval time.Duration
	Enabled       bool
}

// FixturesConfig points at the JSON files seeding the network and fleet.
// Rebase shifts every fixture schedule so the earliest departure lands at
// startup, keeping the demo data live without editing timestamps.
type FixturesConfig struct {
	NetworkPath string
	TrainsPath  string
	Rebase      bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "railopt.log"),
		},
		Optimizer: OptimizerConfig{
			HorizonMinutes: getIntEnv("OPT_HORIZON_MINUTES", 60),
			DelayStepMin:   getIntEnv("OPT_DELAY_STEP_MINUTES", 1),
			MaxDelayMin:    getIntEnv("OPT_MAX_DELAY_MINUTES", 60),
			MaxIterations:  getIntEnv("OPT_MAX_ITERATIONS", 1000),
			TimeBudget:     getDurationEnv("OPT_TIME_BUDGET", 30*time.Second),
			EnableReroute:  getBoolEnv("OPT_ENABLE_REROUTE", true),
			Seed:           getInt64Env("OPT_SEED", 1),
		},
		Audit: AuditConfig{
			Driver:     getEnv("AUDIT_DRIVER", "sqlite"),
			SQLitePath: getEnv("AUDIT_SQLITE_PATH", "railopt_audit.db"),
			Postgres: PostgresConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnv("DB_PORT", "5432"),
				User:     getEnv("DB_USER", "postgres"),
				Password: getEnv("DB_PASSWORD", ""),
				DBName:   getEnv("DB_NAME", "railopt"),
			},
			Retention: getDurationEnv("AUDIT_RETENTION", 30*24*time.Hour),
		},
		Dispatch: DispatchConfig{
			CycleInterval: getDurationEnv("DISPATCH_INTERVAL", 30*time.Second),
			Enabled:       getBoolEnv("DISPATCH_ENABLED", true),
		},
		Fixtures: FixturesConfig{
			NetworkPath: getEnv("NETWORK_FILE", "examples/network.json"),
			TrainsPath:  getEnv("TRAINS_FILE", "examples/trains.json"),
			Rebase:      getBoolEnv("FIXTURES_REBASE", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Audit.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown audit driver %q", c.Audit.Driver)
	}
	if c.Optimizer.HorizonMinutes < 0 || c.Optimizer.HorizonMinutes > 480 {
		return fmt.Errorf("optimizer horizon %d minutes outside 0..480", c.Optimizer.HorizonMinutes)
	}
	if c.Optimizer.DelayStepMin < 1 {
		return fmt.Errorf("optimizer delay step must be at least 1 minute")
	}
	if c.Dispatch.Enabled && c.Dispatch.CycleInterval <= 0 {
		return fmt.Errorf("dispatch interval must be positive")
	}
	return nil
}

func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
