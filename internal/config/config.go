// Package config defines the configuration structures for VigorCast. No
// parsing logic lives in this file, only plain data types and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Pipeline sections
// ─────────────────────────────────────────────────────────────────────────────

// InputConfig selects the observation columns and prefilters rows.
type InputConfig struct {
	RegionColumn     string   `mapstructure:"region_column"`
	YearColumn       string   `mapstructure:"year_column"`
	VegetationColumn string   `mapstructure:"vegetation_column"`
	PollutantColumns []string `mapstructure:"pollutant_columns"`
	// Pollutant is the column driving calibration, sensitivity and scenarios.
	Pollutant    string `mapstructure:"pollutant"`
	ExcludeYears []int  `mapstructure:"exclude_years"`
}

// CalibrationConfig tunes the per-region logistic fit.
type CalibrationConfig struct {
	MinPoints      int     `mapstructure:"min_points"`
	MaxEvaluations int     `mapstructure:"max_evaluations"`
	Tolerance      float64 `mapstructure:"tolerance"`
	Workers        int     `mapstructure:"workers"`
	RMin           float64 `mapstructure:"r_min"`
	RMax           float64 `mapstructure:"r_max"`
	KMin           float64 `mapstructure:"k_min"`
	KMax           float64 `mapstructure:"k_max"`
	B0Min          float64 `mapstructure:"b0_min"`
	B0Max          float64 `mapstructure:"b0_max"`
	CacheEnabled   bool    `mapstructure:"cache_enabled"`
}

// SensitivityConfig tunes the cross-region regression.
type SensitivityConfig struct {
	MinSamples int `mapstructure:"min_samples"`
	// Aggregation is "rows" (one sample per observation row) or "region_mean".
	Aggregation string `mapstructure:"aggregation"`
}

// ScenarioConfig tunes the trajectory generator.
type ScenarioConfig struct {
	Policies         []string `mapstructure:"policies"`
	HorizonYear      int      `mapstructure:"horizon_year"`
	DecreaseRate     float64  `mapstructure:"decrease_rate"`
	IncreaseRate     float64  `mapstructure:"increase_rate"`
	FluctuationSigma float64  `mapstructure:"fluctuation_sigma"`
	Seed             int64    `mapstructure:"seed"`
}

// ProjectionConfig selects the projection mode.
type ProjectionConfig struct {
	Mode    string `mapstructure:"mode"` // "closed_form" | "stepwise"
	Compare bool   `mapstructure:"compare"`
}

// ArtifactsConfig selects where run outputs are written.
type ArtifactsConfig struct {
	Backend  string `mapstructure:"backend"` // "local" | "minio"
	Dir      string `mapstructure:"dir"`
	Prefix   string `mapstructure:"prefix"`
	Workbook bool   `mapstructure:"workbook"`
	Charts   bool   `mapstructure:"charts"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Infrastructure sections
// ─────────────────────────────────────────────────────────────────────────────

// MinIOConfig holds object storage parameters.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// RedisConfig holds Redis connection parameters for the calibration cache.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka producer/consumer parameters for run events.
type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	RequestTopic   string        `mapstructure:"request_topic"`
	CompletedTopic string        `mapstructure:"completed_topic"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// ServerConfig holds the worker's HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// WorkerConfig tunes the Kafka-driven worker.
type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object populated by the loader.
type Config struct {
	Log         logging.LogConfig `mapstructure:"log"`
	Input       InputConfig       `mapstructure:"input"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Sensitivity SensitivityConfig `mapstructure:"sensitivity"`
	Scenario    ScenarioConfig    `mapstructure:"scenario"`
	Projection  ProjectionConfig  `mapstructure:"projection"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Server      ServerConfig      `mapstructure:"server"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

// Validate checks that the configuration is internally consistent. It is
// called after ApplyDefaults, so zero values here mean the user set them.
func (c *Config) Validate() error {
	if c.Input.RegionColumn == "" || c.Input.YearColumn == "" || c.Input.VegetationColumn == "" {
		return fmt.Errorf("config: input region, year and vegetation columns are required")
	}
	if c.Input.Pollutant == "" {
		return fmt.Errorf("config: input.pollutant is required")
	}

	cal := c.Calibration
	if cal.MinPoints < 1 {
		return fmt.Errorf("config: calibration.min_points must be positive, got %d", cal.MinPoints)
	}
	if cal.MaxEvaluations < 1 {
		return fmt.Errorf("config: calibration.max_evaluations must be positive, got %d", cal.MaxEvaluations)
	}
	if cal.Workers < 1 {
		return fmt.Errorf("config: calibration.workers must be positive, got %d", cal.Workers)
	}
	if cal.RMin <= 0 || cal.RMin >= cal.RMax {
		return fmt.Errorf("config: calibration r bounds invalid [%g, %g]", cal.RMin, cal.RMax)
	}
	if cal.KMin <= 0 || cal.KMin >= cal.KMax {
		return fmt.Errorf("config: calibration K bounds invalid [%g, %g]", cal.KMin, cal.KMax)
	}
	if cal.B0Min < 0 || cal.B0Min >= cal.B0Max {
		return fmt.Errorf("config: calibration B0 bounds invalid [%g, %g]", cal.B0Min, cal.B0Max)
	}

	if c.Sensitivity.MinSamples < 2 {
		return fmt.Errorf("config: sensitivity.min_samples must be at least 2, got %d", c.Sensitivity.MinSamples)
	}
	switch c.Sensitivity.Aggregation {
	case "rows", "region_mean":
	default:
		return fmt.Errorf("config: unknown sensitivity.aggregation %q", c.Sensitivity.Aggregation)
	}

	if len(c.Scenario.Policies) == 0 {
		return fmt.Errorf("config: scenario.policies must not be empty")
	}
	for _, p := range c.Scenario.Policies {
		switch strings.ToLower(p) {
		case "constant", "decrease", "increase", "fluctuating":
		default:
			return fmt.Errorf("config: unknown scenario policy %q", p)
		}
	}
	if c.Scenario.DecreaseRate < 0 || c.Scenario.DecreaseRate >= 1 {
		return fmt.Errorf("config: scenario.decrease_rate must be in [0,1), got %g", c.Scenario.DecreaseRate)
	}
	if c.Scenario.IncreaseRate < 0 {
		return fmt.Errorf("config: scenario.increase_rate must be non-negative, got %g", c.Scenario.IncreaseRate)
	}

	switch c.Projection.Mode {
	case "closed_form", "stepwise":
	default:
		return fmt.Errorf("config: unknown projection.mode %q", c.Projection.Mode)
	}

	switch c.Artifacts.Backend {
	case "local":
		if c.Artifacts.Dir == "" {
			return fmt.Errorf("config: artifacts.dir is required for the local backend")
		}
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.endpoint and minio.bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("config: unknown artifacts.backend %q", c.Artifacts.Backend)
	}

	if c.Database.Enabled && (c.Database.Host == "" || c.Database.DBName == "") {
		return fmt.Errorf("config: database.host and database.db_name are required when the database is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required when kafka is enabled")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	return nil
}
