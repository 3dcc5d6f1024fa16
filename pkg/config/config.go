// Package config defines the swingest configuration surface and its
// loading pipeline.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SECUREWATCH_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/securewatch/ingest/pkg/buffer"
	"github.com/securewatch/ingest/pkg/flow"
)

// Config is the complete swingest configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains the Prometheus endpoint configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Buffer is the composite ingestion-queue configuration.
	Buffer BufferConfig `mapstructure:"buffer" yaml:"buffer"`

	// Parser controls dispatch batching.
	Parser ParserConfig `mapstructure:"parser" yaml:"parser"`

	// Enrichment controls the rule engine and provider cache.
	Enrichment EnrichmentConfig `mapstructure:"enrichment" yaml:"enrichment"`

	// Pipeline controls the worker pool and shutdown behavior.
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN or ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// BufferConfig is the composite object handed to the buffer manager, plus
// the watermarks used to derive backpressure defaults.
type BufferConfig struct {
	MemoryBufferSize    int     `mapstructure:"memory_buffer_size" validate:"gt=0" yaml:"memory_buffer_size"`
	DiskBufferSize      int     `mapstructure:"disk_buffer_size" validate:"gte=0" yaml:"disk_buffer_size"`
	DiskBufferPath      string  `mapstructure:"disk_buffer_path" validate:"required" yaml:"disk_buffer_path"`
	CompressionEnabled  bool    `mapstructure:"compression_enabled" yaml:"compression_enabled"`
	CompressionLevel    int     `mapstructure:"compression_level" validate:"gte=0,lte=22" yaml:"compression_level"`
	HighWaterMark       float64 `mapstructure:"high_water_mark" validate:"gt=0,lte=1" yaml:"high_water_mark"`
	LowWaterMark        float64 `mapstructure:"low_water_mark" validate:"gte=0,lte=1" yaml:"low_water_mark"`
	MaxDeliveryAttempts int     `mapstructure:"max_delivery_attempts" validate:"gte=0" yaml:"max_delivery_attempts"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Backpressure   BackpressureConfig   `mapstructure:"backpressure" yaml:"backpressure"`
	AdaptiveBatch  AdaptiveBatchConfig  `mapstructure:"adaptive_batch" yaml:"adaptive_batch"`
	FlowControl    FlowControlConfig    `mapstructure:"flow_control" yaml:"flow_control"`
}

// CircuitBreakerConfig configures the downstream-sink breaker.
type CircuitBreakerConfig struct {
	FailureThreshold   float64       `mapstructure:"failure_threshold" validate:"gte=0,lte=1" yaml:"failure_threshold"`
	ResetTimeout       time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	HalfOpenRequests   int           `mapstructure:"half_open_requests" validate:"gte=0" yaml:"half_open_requests"`
	MonitoringInterval time.Duration `mapstructure:"monitoring_interval" yaml:"monitoring_interval"`
	MinRequests        int           `mapstructure:"min_requests" validate:"gte=0" yaml:"min_requests"`
}

// BackpressureConfig configures the backpressure monitor.
type BackpressureConfig struct {
	QueueDepthThreshold int           `mapstructure:"queue_depth_threshold" validate:"gte=0" yaml:"queue_depth_threshold"`
	LatencyThreshold    time.Duration `mapstructure:"latency_threshold" yaml:"latency_threshold"`
	ErrorRateThreshold  float64       `mapstructure:"error_rate_threshold" validate:"gte=0,lte=1" yaml:"error_rate_threshold"`
	MonitoringInterval  time.Duration `mapstructure:"monitoring_interval" yaml:"monitoring_interval"`
	AdaptiveThresholds  bool          `mapstructure:"adaptive_thresholds" yaml:"adaptive_thresholds"`
	RecoveryFactor      float64       `mapstructure:"recovery_factor" validate:"gte=0,lte=1" yaml:"recovery_factor"`
}

// AdaptiveBatchConfig configures the batch sizer.
type AdaptiveBatchConfig struct {
	InitialBatchSize   int           `mapstructure:"initial_batch_size" validate:"gte=0" yaml:"initial_batch_size"`
	MinBatchSize       int           `mapstructure:"min_batch_size" validate:"gte=0" yaml:"min_batch_size"`
	MaxBatchSize       int           `mapstructure:"max_batch_size" validate:"gte=0" yaml:"max_batch_size"`
	TargetLatency      time.Duration `mapstructure:"target_latency" yaml:"target_latency"`
	AdjustmentFactor   float64       `mapstructure:"adjustment_factor" validate:"gte=0,lte=1" yaml:"adjustment_factor"`
	EvaluationInterval time.Duration `mapstructure:"evaluation_interval" yaml:"evaluation_interval"`
	ThroughputTarget   float64       `mapstructure:"throughput_target" validate:"gte=0" yaml:"throughput_target"`
	AdaptiveEnabled    bool          `mapstructure:"adaptive_enabled" yaml:"adaptive_enabled"`
}

// FlowControlConfig configures the admission gate.
type FlowControlConfig struct {
	MaxEventsPerSecond float64             `mapstructure:"max_events_per_second" validate:"gte=0" yaml:"max_events_per_second"`
	BurstSize          int                 `mapstructure:"burst_size" validate:"gte=0" yaml:"burst_size"`
	SlidingWindowSize  time.Duration       `mapstructure:"sliding_window_size" yaml:"sliding_window_size"`
	ThrottleEnabled    bool                `mapstructure:"throttle_enabled" yaml:"throttle_enabled"`
	PriorityLevels     int                 `mapstructure:"priority_levels" validate:"gte=0,lte=5" yaml:"priority_levels"`
	EmergencyMode      EmergencyModeConfig `mapstructure:"emergency_mode" yaml:"emergency_mode"`
}

// EmergencyModeConfig configures the priority-aware emergency throttle.
type EmergencyModeConfig struct {
	Enabled          bool    `mapstructure:"enabled" yaml:"enabled"`
	TriggerThreshold float64 `mapstructure:"trigger_threshold" validate:"gte=0,lte=1" yaml:"trigger_threshold"`
	ThrottleRate     float64 `mapstructure:"throttle_rate" validate:"gte=0,lte=1" yaml:"throttle_rate"`
}

// ParserConfig controls the dispatch batch path.
type ParserConfig struct {
	ChunkSize      int `mapstructure:"chunk_size" validate:"gte=0" yaml:"chunk_size"`
	MaxConcurrency int `mapstructure:"max_concurrency" validate:"gte=0" yaml:"max_concurrency"`
}

// EnrichmentConfig controls the rule engine.
type EnrichmentConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	CachePath     string        `mapstructure:"cache_path" yaml:"cache_path"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
}

// PipelineConfig controls the worker pool.
type PipelineConfig struct {
	Workers         int           `mapstructure:"workers" validate:"gte=0" yaml:"workers"`
	StatsInterval   time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ManagerConfig converts the buffer section into the buffer manager's
// composite configuration, deriving backpressure defaults from the
// watermarks when the sub-object leaves them unset.
func (c BufferConfig) ManagerConfig() buffer.ManagerConfig {
	queueDepth := c.Backpressure.QueueDepthThreshold
	if queueDepth == 0 && c.HighWaterMark > 0 {
		queueDepth = int(c.HighWaterMark * float64(c.MemoryBufferSize))
	}
	recovery := c.Backpressure.RecoveryFactor
	if recovery == 0 && c.HighWaterMark > 0 {
		recovery = c.LowWaterMark / c.HighWaterMark
	}

	return buffer.ManagerConfig{
		MemoryBufferSize:    c.MemoryBufferSize,
		DiskBufferSize:      c.DiskBufferSize,
		DiskBufferPath:      c.DiskBufferPath,
		CompressionEnabled:  c.CompressionEnabled,
		CompressionLevel:    c.CompressionLevel,
		MaxDeliveryAttempts: c.MaxDeliveryAttempts,
		CircuitBreaker: flow.BreakerConfig{
			FailureThreshold:   c.CircuitBreaker.FailureThreshold,
			ResetTimeout:       c.CircuitBreaker.ResetTimeout,
			HalfOpenRequests:   uint32(c.CircuitBreaker.HalfOpenRequests),
			MonitoringInterval: c.CircuitBreaker.MonitoringInterval,
			MinRequests:        uint32(c.CircuitBreaker.MinRequests),
		},
		Backpressure: flow.BackpressureConfig{
			QueueDepthThreshold: queueDepth,
			LatencyThreshold:    c.Backpressure.LatencyThreshold,
			ErrorRateThreshold:  c.Backpressure.ErrorRateThreshold,
			MonitoringInterval:  c.Backpressure.MonitoringInterval,
			AdaptiveThresholds:  c.Backpressure.AdaptiveThresholds,
			RecoveryFactor:      recovery,
		},
		AdaptiveBatch: flow.BatchSizerConfig{
			InitialBatchSize:   c.AdaptiveBatch.InitialBatchSize,
			MinBatchSize:       c.AdaptiveBatch.MinBatchSize,
			MaxBatchSize:       c.AdaptiveBatch.MaxBatchSize,
			TargetLatency:      c.AdaptiveBatch.TargetLatency,
			AdjustmentFactor:   c.AdaptiveBatch.AdjustmentFactor,
			EvaluationInterval: c.AdaptiveBatch.EvaluationInterval,
			ThroughputTarget:   c.AdaptiveBatch.ThroughputTarget,
			AdaptiveEnabled:    c.AdaptiveBatch.AdaptiveEnabled,
		},
		FlowControl: flow.GateConfig{
			MaxEventsPerSecond: c.FlowControl.MaxEventsPerSecond,
			BurstSize:          c.FlowControl.BurstSize,
			SlidingWindowSize:  c.FlowControl.SlidingWindowSize,
			ThrottleEnabled:    c.FlowControl.ThrottleEnabled,
			Emergency: flow.EmergencyConfig{
				Enabled:          c.FlowControl.EmergencyMode.Enabled,
				TriggerThreshold: c.FlowControl.EmergencyMode.TriggerThreshold,
				ThrottleRate:     c.FlowControl.EmergencyMode.ThrottleRate,
			},
		},
	}
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath skips the file and returns defaults overlaid with
// environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		ApplyDefaults(cfg)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable and config file handling.
// Environment variables use the SECUREWATCH_ prefix with underscores,
// e.g. SECUREWATCH_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SECUREWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/securewatch")
		v.SetConfigName("swingest")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if present. A missing file is not
// an error; defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s" and raw numbers into
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
