package config

import (
	"time"

	"github.com/spf13/viper"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultRegionColumn     = "Region"
	DefaultYearColumn       = "Year"
	DefaultVegetationColumn = "Mean_NDVI"
	DefaultPollutant        = "Mean_NO2"

	DefaultMinPoints      = 4
	DefaultMaxEvaluations = 8000
	DefaultTolerance      = 1e-10
	DefaultWorkers        = 1
	DefaultRMin           = 1e-4
	DefaultRMax           = 2.0
	DefaultKMin           = 0.1
	DefaultKMax           = 2.0
	DefaultB0Min          = 0.0
	DefaultB0Max          = 2.0

	DefaultMinSamples  = 3
	DefaultAggregation = "rows"

	DefaultHorizonYear  = 2050
	DefaultDecreaseRate = 0.01
	DefaultIncreaseRate = 0.01
	DefaultFluctuation  = 0.05
	DefaultSeed         = 42

	DefaultProjectionMode = "closed_form"

	DefaultArtifactsBackend = "local"
	DefaultArtifactsDir     = "./out"
	DefaultArtifactsPrefix  = "runs"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "vigorcast"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "vigorcast"
	DefaultDBSSLMode  = "disable"
	DefaultDBMaxConns = 10
	DefaultDBMinConns = 1

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisTTL    = 24 * time.Hour
	DefaultRedisPrefix = "vigorcast:fit:"

	DefaultKafkaBroker         = "localhost:9092"
	DefaultKafkaGroupID        = "vigorcast-worker"
	DefaultKafkaRequestTopic   = "pipeline.run.requested"
	DefaultKafkaCompletedTopic = "pipeline.run.completed"
	DefaultKafkaBatchTimeout   = 100 * time.Millisecond
	DefaultKafkaMaxAttempts    = 3

	DefaultServerPort            = 8080
	DefaultServerMode            = "release"
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 15 * time.Second
	DefaultServerShutdownTimeout = 10 * time.Second

	DefaultMetricsNamespace = "vigorcast"
	DefaultMetricsPath      = "/metrics"

	DefaultWorkerConcurrency = 1
	DefaultWorkerRunTimeout  = 10 * time.Minute
)

// DefaultPolicies is the policy set run when none is configured.
var DefaultPolicies = []string{"constant", "decrease", "increase"}

// setViperDefaults registers every key with viper so that VIGOR_* environment
// variables bind even when no config file mentions the key. Boolean switches
// and the scenario rates, sigma and seed are defaulted here only, since
// ApplyDefaults cannot tell a configured zero from unset.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetDefault("input.region_column", DefaultRegionColumn)
	v.SetDefault("input.year_column", DefaultYearColumn)
	v.SetDefault("input.vegetation_column", DefaultVegetationColumn)
	v.SetDefault("input.pollutant_columns", []string{})
	v.SetDefault("input.pollutant", DefaultPollutant)
	v.SetDefault("input.exclude_years", []int{})

	v.SetDefault("calibration.min_points", DefaultMinPoints)
	v.SetDefault("calibration.max_evaluations", DefaultMaxEvaluations)
	v.SetDefault("calibration.tolerance", DefaultTolerance)
	v.SetDefault("calibration.workers", DefaultWorkers)
	v.SetDefault("calibration.r_min", DefaultRMin)
	v.SetDefault("calibration.r_max", DefaultRMax)
	v.SetDefault("calibration.k_min", DefaultKMin)
	v.SetDefault("calibration.k_max", DefaultKMax)
	v.SetDefault("calibration.b0_min", DefaultB0Min)
	v.SetDefault("calibration.b0_max", DefaultB0Max)
	v.SetDefault("calibration.cache_enabled", false)

	v.SetDefault("sensitivity.min_samples", DefaultMinSamples)
	v.SetDefault("sensitivity.aggregation", DefaultAggregation)

	v.SetDefault("scenario.policies", DefaultPolicies)
	v.SetDefault("scenario.horizon_year", DefaultHorizonYear)
	v.SetDefault("scenario.decrease_rate", DefaultDecreaseRate)
	v.SetDefault("scenario.increase_rate", DefaultIncreaseRate)
	v.SetDefault("scenario.fluctuation_sigma", DefaultFluctuation)
	v.SetDefault("scenario.seed", DefaultSeed)

	v.SetDefault("projection.mode", DefaultProjectionMode)
	v.SetDefault("projection.compare", true)

	v.SetDefault("artifacts.backend", DefaultArtifactsBackend)
	v.SetDefault("artifacts.dir", DefaultArtifactsDir)
	v.SetDefault("artifacts.prefix", DefaultArtifactsPrefix)
	v.SetDefault("artifacts.workbook", true)
	v.SetDefault("artifacts.charts", true)

	v.SetDefault("minio.endpoint", DefaultMinIOEndpoint)
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", DefaultMinIOBucket)
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", DefaultDBHost)
	v.SetDefault("database.port", DefaultDBPort)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", DefaultDBName)
	v.SetDefault("database.ssl_mode", DefaultDBSSLMode)
	v.SetDefault("database.max_conns", DefaultDBMaxConns)
	v.SetDefault("database.min_conns", DefaultDBMinConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.default_ttl", DefaultRedisTTL)
	v.SetDefault("redis.key_prefix", DefaultRedisPrefix)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.group_id", DefaultKafkaGroupID)
	v.SetDefault("kafka.request_topic", DefaultKafkaRequestTopic)
	v.SetDefault("kafka.completed_topic", DefaultKafkaCompletedTopic)
	v.SetDefault("kafka.batch_timeout", DefaultKafkaBatchTimeout)
	v.SetDefault("kafka.max_attempts", DefaultKafkaMaxAttempts)

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.mode", DefaultServerMode)
	v.SetDefault("server.read_timeout", DefaultServerReadTimeout)
	v.SetDefault("server.write_timeout", DefaultServerWriteTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
	v.SetDefault("metrics.path", DefaultMetricsPath)

	v.SetDefault("worker.concurrency", DefaultWorkerConcurrency)
	v.SetDefault("worker.run_timeout", DefaultWorkerRunTimeout)
}

// ApplyDefaults fills zero-value fields in cfg with the defaults above.
// Fields that are already set are left unchanged. It is safe on a Config
// built in code as well as on one unmarshalled by viper.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Input ─────────────────────────────────────────────────────────────────
	if cfg.Input.RegionColumn == "" {
		cfg.Input.RegionColumn = DefaultRegionColumn
	}
	if cfg.Input.YearColumn == "" {
		cfg.Input.YearColumn = DefaultYearColumn
	}
	if cfg.Input.VegetationColumn == "" {
		cfg.Input.VegetationColumn = DefaultVegetationColumn
	}
	if cfg.Input.Pollutant == "" {
		cfg.Input.Pollutant = DefaultPollutant
	}

	// ── Calibration ───────────────────────────────────────────────────────────
	if cfg.Calibration.MinPoints == 0 {
		cfg.Calibration.MinPoints = DefaultMinPoints
	}
	if cfg.Calibration.MaxEvaluations == 0 {
		cfg.Calibration.MaxEvaluations = DefaultMaxEvaluations
	}
	if cfg.Calibration.Tolerance == 0 {
		cfg.Calibration.Tolerance = DefaultTolerance
	}
	if cfg.Calibration.Workers == 0 {
		cfg.Calibration.Workers = DefaultWorkers
	}
	if cfg.Calibration.RMin == 0 {
		cfg.Calibration.RMin = DefaultRMin
	}
	if cfg.Calibration.RMax == 0 {
		cfg.Calibration.RMax = DefaultRMax
	}
	if cfg.Calibration.KMin == 0 {
		cfg.Calibration.KMin = DefaultKMin
	}
	if cfg.Calibration.KMax == 0 {
		cfg.Calibration.KMax = DefaultKMax
	}
	if cfg.Calibration.B0Max == 0 {
		cfg.Calibration.B0Max = DefaultB0Max
	}

	// ── Sensitivity ───────────────────────────────────────────────────────────
	if cfg.Sensitivity.MinSamples == 0 {
		cfg.Sensitivity.MinSamples = DefaultMinSamples
	}
	if cfg.Sensitivity.Aggregation == "" {
		cfg.Sensitivity.Aggregation = DefaultAggregation
	}

	// ── Scenario ──────────────────────────────────────────────────────────────
	if len(cfg.Scenario.Policies) == 0 {
		cfg.Scenario.Policies = append([]string(nil), DefaultPolicies...)
	}
	if cfg.Scenario.HorizonYear == 0 {
		cfg.Scenario.HorizonYear = DefaultHorizonYear
	}

	// ── Projection ────────────────────────────────────────────────────────────
	if cfg.Projection.Mode == "" {
		cfg.Projection.Mode = DefaultProjectionMode
	}

	// ── Artifacts ─────────────────────────────────────────────────────────────
	if cfg.Artifacts.Backend == "" {
		cfg.Artifacts.Backend = DefaultArtifactsBackend
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = DefaultArtifactsDir
	}
	if cfg.Artifacts.Prefix == "" {
		cfg.Artifacts.Prefix = DefaultArtifactsPrefix
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = DefaultDBSSLMode
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.MinConns == 0 {
		cfg.Database.MinConns = DefaultDBMinConns
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = DefaultRedisTTL
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = DefaultKafkaRequestTopic
	}
	if cfg.Kafka.CompletedTopic == "" {
		cfg.Kafka.CompletedTopic = DefaultKafkaCompletedTopic
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}
	if cfg.Kafka.MaxAttempts == 0 {
		cfg.Kafka.MaxAttempts = DefaultKafkaMaxAttempts
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.RunTimeout == 0 {
		cfg.Worker.RunTimeout = DefaultWorkerRunTimeout
	}
}

// Default returns a fully defaulted Config without reading any file or
// environment variable.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Scenario.DecreaseRate = DefaultDecreaseRate
	cfg.Scenario.IncreaseRate = DefaultIncreaseRate
	cfg.Scenario.FluctuationSigma = DefaultFluctuation
	cfg.Scenario.Seed = DefaultSeed
	cfg.Projection.Compare = true
	cfg.Artifacts.Workbook = true
	cfg.Artifacts.Charts = true
	cfg.Metrics.Enabled = true
	return cfg
}
