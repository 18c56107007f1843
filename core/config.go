package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for a MindBus process (orchestrator or
// worker). It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("orchestrator-01"),
//	    WithBusHost("rabbitmq.internal"),
//	)
type Config struct {
	Name      string `json:"name" env:"MINDBUS_NAME"`
	ID        string `json:"id" env:"MINDBUS_ID"`
	Namespace string `json:"namespace" env:"MINDBUS_NAMESPACE" default:"default"`

	Bus          BusConfig          `json:"bus"`
	Registry     RegistryConfig     `json:"registry"`
	Artifacts    ArtifactConfig     `json:"artifacts"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Resilience   ResilienceConfig   `json:"resilience"`
	Logging      LoggingConfig      `json:"logging"`
	Development  DevelopmentConfig  `json:"development"`

	// logger is used for configuration-loading diagnostics; excluded from JSON.
	logger Logger `json:"-"`
}

// BusConfig describes how to reach the broker backing MindBus, and the
// per-type publish priorities and validation mode for the wire protocol.
// Every value is sourced from configuration; nothing here is hardcoded
// at the call site.
type BusConfig struct {
	Host                         string        `json:"host" env:"MINDBUS_RABBITMQ_HOST" default:"localhost"`
	Port                         int           `json:"port" env:"MINDBUS_RABBITMQ_PORT" default:"5672"`
	Username                     string        `json:"username" env:"MINDBUS_RABBITMQ_USER" default:"guest"`
	Password                     string        `json:"password" env:"MINDBUS_RABBITMQ_PASSWORD" default:"guest"`
	VHost                        string        `json:"vhost" env:"MINDBUS_RABBITMQ_VHOST" default:"/"`
	ExchangeName                 string        `json:"exchange_name" env:"MINDBUS_EXCHANGE_NAME" default:"ai_team"`
	ExchangeType                 string        `json:"exchange_type" env:"MINDBUS_EXCHANGE_TYPE" default:"topic"`
	HeartbeatSeconds             int           `json:"heartbeat_seconds" env:"MINDBUS_HEARTBEAT_SECONDS" default:"300"`
	BlockedConnectionTimeoutSecs int           `json:"blocked_connection_timeout_seconds" env:"MINDBUS_BLOCKED_TIMEOUT_SECONDS" default:"300"`
	ReconnectMinDelay            time.Duration `json:"reconnect_min_delay" env:"MINDBUS_RECONNECT_MIN_DELAY" default:"500ms"`
	ReconnectMaxDelay            time.Duration `json:"reconnect_max_delay" env:"MINDBUS_RECONNECT_MAX_DELAY" default:"30s"`
	Priorities                   PriorityConfig `json:"priorities"`
	Validation                   ValidationConfig `json:"validation"`
}

// PriorityConfig maps each envelope type to its AMQP publish priority
// (0-255). Control messages default highest; everything else is low.
type PriorityConfig struct {
	Command int `json:"command" env:"MINDBUS_PRIORITY_COMMAND" default:"20"`
	Result  int `json:"result" env:"MINDBUS_PRIORITY_RESULT" default:"20"`
	Error   int `json:"error" env:"MINDBUS_PRIORITY_ERROR" default:"20"`
	Event   int `json:"event" env:"MINDBUS_PRIORITY_EVENT" default:"10"`
	Control int `json:"control" env:"MINDBUS_PRIORITY_CONTROL" default:"255"`
}

// ValidationConfig governs how strictly incoming envelopes are checked.
type ValidationConfig struct {
	StrictMode bool `json:"strict_mode" env:"MINDBUS_VALIDATION_STRICT" default:"true"`
}

// RegistryConfig tunes the Node Registry's liveness sweeper. TTLSeconds
// must be at least twice HeartbeatIntervalSeconds (checked in Validate).
type RegistryConfig struct {
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds" env:"MINDBUS_REGISTRY_HEARTBEAT_SECONDS" default:"10"`
	TTLSeconds               int `json:"ttl_seconds" env:"MINDBUS_REGISTRY_TTL_SECONDS" default:"30"`
	CleanupIntervalSeconds   int `json:"cleanup_interval_seconds" env:"MINDBUS_REGISTRY_CLEANUP_SECONDS" default:"5"`
}

// ArtifactConfig locates the Artifact Store's blob filesystem roots and
// bounds its degraded-mode buffer.
type ArtifactConfig struct {
	Root               string `json:"root" env:"MINDBUS_ARTIFACTS_ROOT" default:"./data/artifacts"`
	CatalogDSN         string `json:"catalog_dsn" env:"MINDBUS_ARTIFACTS_CATALOG_DSN" default:"./data/artifacts/catalog.db"`
	CatalogDriver      string `json:"catalog_driver" env:"MINDBUS_ARTIFACTS_CATALOG_DRIVER" default:"sqlite"`
	BufferMaxItems     int    `json:"buffer_max_items" env:"MINDBUS_ARTIFACTS_BUFFER_MAX_ITEMS" default:"1000"`
	BufferMaxSizeMB    int    `json:"buffer_max_size_mb" env:"MINDBUS_ARTIFACTS_BUFFER_MAX_SIZE_MB" default:"512"`
	BufferRedisURL     string `json:"buffer_redis_url" env:"MINDBUS_ARTIFACTS_BUFFER_REDIS_URL"`
}

// OrchestratorConfig bounds a Process Card interpreter run.
type OrchestratorConfig struct {
	StepTimeoutSeconds int    `json:"step_timeout_seconds" env:"MINDBUS_ORCH_STEP_TIMEOUT_SECONDS" default:"300"`
	MaxRetriesPerStep  int    `json:"max_retries_per_step" env:"MINDBUS_ORCH_MAX_RETRIES" default:"3"`
	ReplyQueueName     string `json:"reply_queue_name" env:"MINDBUS_ORCH_REPLY_QUEUE" default:"orchestrator.responses"`
}

// ResilienceConfig contains fault tolerance pattern settings. CircuitBreaker
// tunes the orchestrator BusDispatcher's per-capability breakers; Retry is
// carried in the configuration but no component in this module reads it.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
}

// CircuitBreakerConfig defines circuit breaker pattern settings. Enabled is
// not consulted by BusDispatcher, which wraps every dispatch in a breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"MINDBUS_CB_ENABLED" default:"false"`
	Threshold        int           `json:"threshold" env:"MINDBUS_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" env:"MINDBUS_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" env:"MINDBUS_CB_HALF_OPEN" default:"3"`
}

// RetryConfig holds exponential-backoff retry settings
// (InitialInterval, Multiplier, MaxInterval, MaxAttempts). No component in
// this module computes a backoff from them; Process Card steps retry by
// their own retry block.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" env:"MINDBUS_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" env:"MINDBUS_RETRY_INITIAL_INTERVAL" default:"1s"`
	MaxInterval     time.Duration `json:"max_interval" env:"MINDBUS_RETRY_MAX_INTERVAL" default:"30s"`
	Multiplier      float64       `json:"multiplier" env:"MINDBUS_RETRY_MULTIPLIER" default:"2.0"`
}

// LoggingConfig contains logging configuration. Supports structured
// (JSON) and human-readable (text) formats.
type LoggingConfig struct {
	Level      string `json:"level" env:"MINDBUS_LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"MINDBUS_LOG_FORMAT" default:"json"`
	Output     string `json:"output" env:"MINDBUS_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" env:"MINDBUS_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.000Z07:00"`
}

// DevelopmentConfig contains settings for local development and testing.
//
// WARNING: never enable development mode in production.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"MINDBUS_DEV_MODE" default:"false"`
	MockBus      bool `json:"mock_bus" env:"MINDBUS_MOCK_BUS" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"MINDBUS_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" env:"MINDBUS_PRETTY_LOGS" default:"false"`
}

// Option is a functional option for configuring MindBus.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults for
// local development against a RabbitMQ instance on localhost.
func DefaultConfig() *Config {
	return &Config{
		Name:      "mindbus-node",
		Namespace: "default",
		Bus: BusConfig{
			Host:                         "localhost",
			Port:                         5672,
			Username:                     "guest",
			Password:                     "guest",
			VHost:                        "/",
			ExchangeName:                 "ai_team",
			ExchangeType:                 "topic",
			HeartbeatSeconds:             300,
			BlockedConnectionTimeoutSecs: 300,
			ReconnectMinDelay:            500 * time.Millisecond,
			ReconnectMaxDelay:            30 * time.Second,
			Priorities: PriorityConfig{
				Command: 20,
				Result:  20,
				Error:   20,
				Event:   10,
				Control: 255,
			},
			Validation: ValidationConfig{StrictMode: true},
		},
		Registry: RegistryConfig{
			HeartbeatIntervalSeconds: 10,
			TTLSeconds:               30,
			CleanupIntervalSeconds:   5,
		},
		Artifacts: ArtifactConfig{
			Root:            "./data/artifacts",
			CatalogDSN:      "./data/artifacts/catalog.db",
			CatalogDriver:   "sqlite",
			BufferMaxItems:  1000,
			BufferMaxSizeMB: 512,
		},
		Orchestrator: OrchestratorConfig{
			StepTimeoutSeconds: 300,
			MaxRetriesPerStep:  3,
			ReplyQueueName:     "orchestrator.responses",
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				Threshold:        5,
				Timeout:          30 * time.Second,
				HalfOpenRequests: 3,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: time.Second,
				MaxInterval:     30 * time.Second,
				Multiplier:      2.0,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		},
	}
}

// LoadFromEnv overlays environment variables onto the receiver. Values
// already set by a prior call (e.g. DefaultConfig) are overwritten only
// when the corresponding variable is present.
func (c *Config) LoadFromEnv() error {
	if c.logger != nil {
		c.logger.Info("Loading configuration from environment", map[string]interface{}{
			"config_source": "environment_variables",
		})
	}

	if v := os.Getenv("MINDBUS_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("MINDBUS_ID"); v != "" {
		c.ID = v
	}
	if v := os.Getenv("MINDBUS_NAMESPACE"); v != "" {
		c.Namespace = v
	}

	if v := os.Getenv("MINDBUS_RABBITMQ_HOST"); v != "" {
		c.Bus.Host = v
	}
	if v := os.Getenv("MINDBUS_RABBITMQ_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Bus.Port = port
		} else if c.logger != nil {
			c.logger.Warn("Invalid port in environment variable", map[string]interface{}{
				"MINDBUS_RABBITMQ_PORT": v,
				"error":                 err,
			})
		}
	}
	if v := os.Getenv("MINDBUS_RABBITMQ_USER"); v != "" {
		c.Bus.Username = v
	}
	if v := os.Getenv("MINDBUS_RABBITMQ_PASSWORD"); v != "" {
		c.Bus.Password = v
	}
	if v := os.Getenv("MINDBUS_RABBITMQ_VHOST"); v != "" {
		c.Bus.VHost = v
	}
	if v := os.Getenv("MINDBUS_EXCHANGE_NAME"); v != "" {
		c.Bus.ExchangeName = v
	}
	if v := os.Getenv("MINDBUS_EXCHANGE_TYPE"); v != "" {
		c.Bus.ExchangeType = v
	}
	if v := os.Getenv("MINDBUS_HEARTBEAT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Bus.HeartbeatSeconds = n
		}
	}
	if v := os.Getenv("MINDBUS_BLOCKED_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Bus.BlockedConnectionTimeoutSecs = n
		}
	}
	if v := os.Getenv("MINDBUS_VALIDATION_STRICT"); v != "" {
		c.Bus.Validation.StrictMode = parseBool(v)
	}

	if v := os.Getenv("MINDBUS_REGISTRY_HEARTBEAT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Registry.HeartbeatIntervalSeconds = n
		}
	}
	if v := os.Getenv("MINDBUS_REGISTRY_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Registry.TTLSeconds = n
		}
	}
	if v := os.Getenv("MINDBUS_REGISTRY_CLEANUP_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Registry.CleanupIntervalSeconds = n
		}
	}

	if v := os.Getenv("MINDBUS_ARTIFACTS_ROOT"); v != "" {
		c.Artifacts.Root = v
	}
	if v := os.Getenv("MINDBUS_ARTIFACTS_CATALOG_DSN"); v != "" {
		c.Artifacts.CatalogDSN = v
	}
	if v := os.Getenv("MINDBUS_ARTIFACTS_CATALOG_DRIVER"); v != "" {
		c.Artifacts.CatalogDriver = v
	}
	if v := os.Getenv("MINDBUS_ARTIFACTS_BUFFER_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Artifacts.BufferMaxItems = n
		}
	}
	if v := os.Getenv("MINDBUS_ARTIFACTS_BUFFER_MAX_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Artifacts.BufferMaxSizeMB = n
		}
	}
	if v := os.Getenv("MINDBUS_ARTIFACTS_BUFFER_REDIS_URL"); v != "" {
		c.Artifacts.BufferRedisURL = v
	}

	if v := os.Getenv("MINDBUS_ORCH_STEP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.StepTimeoutSeconds = n
		}
	}
	if v := os.Getenv("MINDBUS_ORCH_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.MaxRetriesPerStep = n
		}
	}
	if v := os.Getenv("MINDBUS_ORCH_REPLY_QUEUE"); v != "" {
		c.Orchestrator.ReplyQueueName = v
	}

	if v := os.Getenv("MINDBUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MINDBUS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv("MINDBUS_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Development.PrettyLogs = true
			c.Logging.Level = "debug"
			c.Logging.Format = "text"
		}
	}
	if v := os.Getenv("MINDBUS_MOCK_BUS"); v != "" {
		c.Development.MockBus = parseBool(v)
	}
	if v := os.Getenv("MINDBUS_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}

	if err := c.Validate(); err != nil {
		if c.logger != nil {
			c.logger.Error("Configuration validation failed", map[string]interface{}{
				"error":         err.Error(),
				"config_source": "environment_variables",
			})
		}
		return err
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file. File settings
// override environment variables but are overridden by functional
// options.
func (c *Config) LoadFromFile(path string) error {
	if c.logger != nil {
		c.logger.Info("Loading configuration from file", map[string]interface{}{
			"file_path": path,
		})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return c.Validate()
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Name == "" {
		return NewFrameworkError("Config.Validate", "config", ErrMissingConfiguration)
	}
	if c.Bus.Port <= 0 || c.Bus.Port > 65535 {
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("invalid bus port %d: %w", c.Bus.Port, ErrInvalidConfiguration))
	}
	if c.Registry.TTLSeconds < 2*c.Registry.HeartbeatIntervalSeconds {
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf(
			"registry.ttl_seconds (%d) must be at least twice registry.heartbeat_interval_seconds (%d): %w",
			c.Registry.TTLSeconds, c.Registry.HeartbeatIntervalSeconds, ErrInvalidConfiguration))
	}
	if c.Registry.CleanupIntervalSeconds <= 0 {
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("registry.cleanup_interval_seconds must be positive: %w", ErrInvalidConfiguration))
	}
	if c.Artifacts.Root == "" {
		return NewFrameworkError("Config.Validate", "config", fmt.Errorf("artifacts.root is required: %w", ErrMissingConfiguration))
	}
	return nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return strings.EqualFold(s, "yes") || strings.EqualFold(s, "on")
	}
	return b
}

// WithName sets the node's name.
func WithName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("name cannot be empty")
		}
		c.Name = name
		return nil
	}
}

// WithBusHost sets the broker host.
func WithBusHost(host string) Option {
	return func(c *Config) error {
		c.Bus.Host = host
		return nil
	}
}

// WithBusCredentials sets the broker username/password.
func WithBusCredentials(username, password string) Option {
	return func(c *Config) error {
		c.Bus.Username = username
		c.Bus.Password = password
		return nil
	}
}

// WithExchange overrides the exchange name and type.
func WithExchange(name, exchangeType string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("exchange name cannot be empty")
		}
		c.Bus.ExchangeName = name
		c.Bus.ExchangeType = exchangeType
		return nil
	}
}

// WithArtifactsRoot sets the blob filesystem root.
func WithArtifactsRoot(root string) Option {
	return func(c *Config) error {
		if root == "" {
			return fmt.Errorf("artifacts root cannot be empty")
		}
		c.Artifacts.Root = root
		return nil
	}
}

// WithCircuitBreaker sets the circuit breaker threshold/timeout and marks it
// Enabled. BusDispatcher's breakers run whether or not Enabled is set.
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.CircuitBreaker.Enabled = true
		c.Resilience.CircuitBreaker.Threshold = threshold
		c.Resilience.CircuitBreaker.Timeout = timeout
		return nil
	}
}

// WithRetry sets Resilience.Retry's MaxAttempts and InitialInterval. No
// component in this module reads Resilience.Retry.
func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.Retry.MaxAttempts = maxAttempts
		c.Resilience.Retry.InitialInterval = initialInterval
		return nil
	}
}

// WithLogLevel overrides the log level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat overrides the log format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithDevelopmentMode toggles development defaults: text logs, debug level.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// WithMockBus enables the in-process MockBus instead of a real broker connection.
func WithMockBus(enabled bool) Option {
	return func(c *Config) error {
		c.Development.MockBus = enabled
		return nil
	}
}

// WithLogger injects a logger used during configuration loading itself.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig builds a Config from defaults, then environment variables,
// then the given functional options, in that priority order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	// A WithLogger option must be applied before env loading logs anything,
	// so options run once up front purely to pick up a logger, then env
	// loads, then the full option set re-applies (idempotent) on top.
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ============================================================================
// ProductionLogger Implementation - Layered Observability Architecture
// ============================================================================

// ProductionLogger provides layered observability for framework operations
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer

	// Metrics layer (enabled when telemetry available)
	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	logger := &ProductionLogger{
		level:          strings.ToLower(logging.Level),
		debug:          dev.DebugLogging || logging.Level == "debug",
		serviceName:    serviceName,
		format:         logging.Format,
		output:         output,
		metricsEnabled: false, // Enabled by telemetry module when available
	}
	trackLogger(logger)
	return logger
}

// EnableMetrics is called by telemetry module to enable metrics layer
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

// WithComponent returns a Logger that tags every entry with component,
// satisfying ComponentAwareLogger.
func (p *ProductionLogger) WithComponent(component string) Logger {
	return &componentLogger{base: p, component: component}
}

type componentLogger struct {
	base      *ProductionLogger
	component string
}

func (c *componentLogger) withComponent(fields map[string]interface{}) map[string]interface{} {
	tagged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		tagged[k] = v
	}
	tagged["component"] = c.component
	return tagged
}

func (c *componentLogger) Info(msg string, fields map[string]interface{}) {
	c.base.Info(msg, c.withComponent(fields))
}
func (c *componentLogger) Error(msg string, fields map[string]interface{}) {
	c.base.Error(msg, c.withComponent(fields))
}
func (c *componentLogger) Warn(msg string, fields map[string]interface{}) {
	c.base.Warn(msg, c.withComponent(fields))
}
func (c *componentLogger) Debug(msg string, fields map[string]interface{}) {
	c.base.Debug(msg, c.withComponent(fields))
}
func (c *componentLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.base.InfoWithContext(ctx, msg, c.withComponent(fields))
}
func (c *componentLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.base.ErrorWithContext(ctx, msg, c.withComponent(fields))
}
func (c *componentLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.base.WarnWithContext(ctx, msg, c.withComponent(fields))
}
func (c *componentLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	c.base.DebugWithContext(ctx, msg, c.withComponent(fields))
}

// Core logging implementation with all three layers
func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		// Structured logging for production log aggregation
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"message":   msg,
		}

		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					logEntry["trace."+k] = v
				}
			}
		}

		for k, v := range fields {
			logEntry[k] = v
		}

		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		// Human-readable for local development
		traceInfo := ""
		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); baggage["request_id"] != "" {
				traceInfo = fmt.Sprintf("[req=%s] ", baggage["request_id"])
			}
		}

		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s] %s%s%s\n",
			timestamp, level, p.serviceName, traceInfo, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitFrameworkMetric(level, msg, fields, ctx)
	}
}

// Metrics emission with cardinality protection
func (p *ProductionLogger) emitFrameworkMetric(level, msg string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{
		"level", level,
		"service", p.serviceName,
	}

	// Add only low-cardinality fields as labels
	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type", "component", "message_type":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}

	if ctx != nil {
		emitMetricWithContext(ctx, "mindbus.framework.operations", 1.0, labels...)
	} else {
		emitMetric("mindbus.framework.operations", 1.0, labels...)
	}
}

// Helper functions for weak coupling to telemetry
func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
