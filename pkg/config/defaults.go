package config

import "time"

// DefaultConfig returns the complete default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9301",
		},
		Buffer: BufferConfig{
			MemoryBufferSize:    10000,
			DiskBufferSize:      100000,
			DiskBufferPath:      "/var/lib/securewatch/buffer.log",
			CompressionEnabled:  true,
			CompressionLevel:    3,
			HighWaterMark:       0.8,
			LowWaterMark:        0.5,
			MaxDeliveryAttempts: 5,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:   0.5,
				ResetTimeout:       30 * time.Second,
				HalfOpenRequests:   3,
				MonitoringInterval: 10 * time.Second,
				MinRequests:        10,
			},
			Backpressure: BackpressureConfig{
				LatencyThreshold:   500 * time.Millisecond,
				ErrorRateThreshold: 0.1,
				MonitoringInterval: time.Second,
				AdaptiveThresholds: false,
				RecoveryFactor:     0.7,
			},
			AdaptiveBatch: AdaptiveBatchConfig{
				InitialBatchSize:   100,
				MinBatchSize:       10,
				MaxBatchSize:       1000,
				TargetLatency:      200 * time.Millisecond,
				AdjustmentFactor:   0.2,
				EvaluationInterval: 5 * time.Second,
				ThroughputTarget:   10000,
				AdaptiveEnabled:    true,
			},
			FlowControl: FlowControlConfig{
				MaxEventsPerSecond: 10000,
				BurstSize:          2000,
				SlidingWindowSize:  time.Second,
				ThrottleEnabled:    true,
				PriorityLevels:     5,
				EmergencyMode: EmergencyModeConfig{
					Enabled:          true,
					TriggerThreshold: 0.2,
					ThrottleRate:     0.5,
				},
			},
		},
		Parser: ParserConfig{
			ChunkSize:      100,
			MaxConcurrency: 4,
		},
		Enrichment: EnrichmentConfig{
			Enabled:       true,
			CachePath:     "/var/lib/securewatch/intelcache",
			CacheTTL:      time.Hour,
			LookupTimeout: 2 * time.Second,
		},
		Pipeline: PipelineConfig{
			Workers:         4,
			StatsInterval:   10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// ApplyDefaults fills zero values left by a partial config file.
func ApplyDefaults(cfg *Config) {
	def := DefaultConfig()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = def.Metrics.ListenAddress
	}

	b := &cfg.Buffer
	bd := def.Buffer
	if b.MemoryBufferSize == 0 {
		b.MemoryBufferSize = bd.MemoryBufferSize
	}
	if b.DiskBufferSize == 0 {
		b.DiskBufferSize = bd.DiskBufferSize
	}
	if b.DiskBufferPath == "" {
		b.DiskBufferPath = bd.DiskBufferPath
	}
	if b.CompressionLevel == 0 {
		b.CompressionLevel = bd.CompressionLevel
	}
	if b.HighWaterMark == 0 {
		b.HighWaterMark = bd.HighWaterMark
	}
	if b.LowWaterMark == 0 {
		b.LowWaterMark = bd.LowWaterMark
	}
	if b.MaxDeliveryAttempts == 0 {
		b.MaxDeliveryAttempts = bd.MaxDeliveryAttempts
	}
	if b.CircuitBreaker.ResetTimeout == 0 {
		b.CircuitBreaker.ResetTimeout = bd.CircuitBreaker.ResetTimeout
	}
	if b.CircuitBreaker.MonitoringInterval == 0 {
		b.CircuitBreaker.MonitoringInterval = bd.CircuitBreaker.MonitoringInterval
	}
	if b.Backpressure.MonitoringInterval == 0 {
		b.Backpressure.MonitoringInterval = bd.Backpressure.MonitoringInterval
	}
	if b.AdaptiveBatch.EvaluationInterval == 0 {
		b.AdaptiveBatch.EvaluationInterval = bd.AdaptiveBatch.EvaluationInterval
	}
	if b.FlowControl.SlidingWindowSize == 0 {
		b.FlowControl.SlidingWindowSize = bd.FlowControl.SlidingWindowSize
	}

	if cfg.Parser.ChunkSize == 0 {
		cfg.Parser.ChunkSize = def.Parser.ChunkSize
	}
	if cfg.Parser.MaxConcurrency == 0 {
		cfg.Parser.MaxConcurrency = def.Parser.MaxConcurrency
	}

	if cfg.Enrichment.CacheTTL == 0 {
		cfg.Enrichment.CacheTTL = def.Enrichment.CacheTTL
	}
	if cfg.Enrichment.LookupTimeout == 0 {
		cfg.Enrichment.LookupTimeout = def.Enrichment.LookupTimeout
	}

	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = def.Pipeline.Workers
	}
	if cfg.Pipeline.StatsInterval == 0 {
		cfg.Pipeline.StatsInterval = def.Pipeline.StatsInterval
	}
	if cfg.Pipeline.ShutdownTimeout == 0 {
		cfg.Pipeline.ShutdownTimeout = def.Pipeline.ShutdownTimeout
	}
}
