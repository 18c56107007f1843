package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "mindbus-node", cfg.Name)
	assert.Equal(t, "localhost", cfg.Bus.Host)
	assert.Equal(t, 5672, cfg.Bus.Port)
	assert.Equal(t, "ai_team", cfg.Bus.ExchangeName)
	assert.Equal(t, "topic", cfg.Bus.ExchangeType)
	assert.True(t, cfg.Bus.Validation.StrictMode)
	assert.Equal(t, 10, cfg.Registry.HeartbeatIntervalSeconds)
	assert.Equal(t, 30, cfg.Registry.TTLSeconds)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MINDBUS_NAME", "orchestrator-01")
	t.Setenv("MINDBUS_RABBITMQ_HOST", "rabbitmq.internal")
	t.Setenv("MINDBUS_RABBITMQ_PORT", "5673")
	t.Setenv("MINDBUS_EXCHANGE_NAME", "custom_exchange")
	t.Setenv("MINDBUS_REGISTRY_TTL_SECONDS", "60")
	t.Setenv("MINDBUS_REGISTRY_HEARTBEAT_SECONDS", "20")
	t.Setenv("MINDBUS_VALIDATION_STRICT", "false")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "orchestrator-01", cfg.Name)
	assert.Equal(t, "rabbitmq.internal", cfg.Bus.Host)
	assert.Equal(t, 5673, cfg.Bus.Port)
	assert.Equal(t, "custom_exchange", cfg.Bus.ExchangeName)
	assert.Equal(t, 60, cfg.Registry.TTLSeconds)
	assert.Equal(t, 20, cfg.Registry.HeartbeatIntervalSeconds)
	assert.False(t, cfg.Bus.Validation.StrictMode)
}

func TestLoadFromEnvInvalidPortIgnored(t *testing.T) {
	t.Setenv("MINDBUS_RABBITMQ_PORT", "not-a-number")
	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5672, cfg.Bus.Port)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configFile := dir + "/config.json"
	content := `{
		"name": "file-loaded-node",
		"bus": {"host": "file-host", "port": 5672, "exchange_name": "ai_team", "exchange_type": "topic"},
		"registry": {"heartbeat_interval_seconds": 10, "ttl_seconds": 30, "cleanup_interval_seconds": 5},
		"artifacts": {"root": "./data/artifacts"}
	}`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	cfg := DefaultConfig()
	err := cfg.LoadFromFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, "file-loaded-node", cfg.Name)
	assert.Equal(t, "file-host", cfg.Bus.Host)
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile("/nonexistent/path/config.json")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"missing name", func(c *Config) { c.Name = "" }, true},
		{"invalid port low", func(c *Config) { c.Bus.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.Bus.Port = 70000 }, true},
		{"ttl less than 2x heartbeat", func(c *Config) {
			c.Registry.HeartbeatIntervalSeconds = 30
			c.Registry.TTLSeconds = 40
		}, true},
		{"zero cleanup interval", func(c *Config) { c.Registry.CleanupIntervalSeconds = 0 }, true},
		{"missing artifacts root", func(c *Config) { c.Artifacts.Root = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFunctionalOptions(t *testing.T) {
	t.Run("WithName", func(t *testing.T) {
		cfg, err := NewConfig(WithName("custom-node"))
		require.NoError(t, err)
		assert.Equal(t, "custom-node", cfg.Name)
	})

	t.Run("WithName rejects empty", func(t *testing.T) {
		_, err := NewConfig(WithName(""))
		assert.Error(t, err)
	})

	t.Run("WithBusHost", func(t *testing.T) {
		cfg, err := NewConfig(WithBusHost("broker.example.com"))
		require.NoError(t, err)
		assert.Equal(t, "broker.example.com", cfg.Bus.Host)
	})

	t.Run("WithBusCredentials", func(t *testing.T) {
		cfg, err := NewConfig(WithBusCredentials("admin", "secret"))
		require.NoError(t, err)
		assert.Equal(t, "admin", cfg.Bus.Username)
		assert.Equal(t, "secret", cfg.Bus.Password)
	})

	t.Run("WithExchange", func(t *testing.T) {
		cfg, err := NewConfig(WithExchange("events", "topic"))
		require.NoError(t, err)
		assert.Equal(t, "events", cfg.Bus.ExchangeName)
	})

	t.Run("WithArtifactsRoot", func(t *testing.T) {
		cfg, err := NewConfig(WithArtifactsRoot("/var/lib/mindbus/artifacts"))
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/mindbus/artifacts", cfg.Artifacts.Root)
	})

	t.Run("WithCircuitBreaker", func(t *testing.T) {
		cfg, err := NewConfig(WithCircuitBreaker(10, 60*time.Second))
		require.NoError(t, err)
		assert.True(t, cfg.Resilience.CircuitBreaker.Enabled)
		assert.Equal(t, 10, cfg.Resilience.CircuitBreaker.Threshold)
	})

	t.Run("WithRetry", func(t *testing.T) {
		cfg, err := NewConfig(WithRetry(5, 2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Resilience.Retry.MaxAttempts)
	})

	t.Run("WithLogLevel", func(t *testing.T) {
		cfg, err := NewConfig(WithLogLevel("debug"))
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("WithLogFormat", func(t *testing.T) {
		cfg, err := NewConfig(WithLogFormat("text"))
		require.NoError(t, err)
		assert.Equal(t, "text", cfg.Logging.Format)
	})

	t.Run("WithDevelopmentMode", func(t *testing.T) {
		cfg, err := NewConfig(WithDevelopmentMode(true))
		require.NoError(t, err)
		assert.True(t, cfg.Development.Enabled)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("WithMockBus", func(t *testing.T) {
		cfg, err := NewConfig(WithMockBus(true))
		require.NoError(t, err)
		assert.True(t, cfg.Development.MockBus)
	})
}

func TestConfigPriority(t *testing.T) {
	t.Setenv("MINDBUS_RABBITMQ_PORT", "7777")

	cfg, err := NewConfig(WithName("priority-test"))
	require.NoError(t, err)

	// env var applies over default
	assert.Equal(t, 7777, cfg.Bus.Port)
	// functional option applies over env/default
	assert.Equal(t, "priority-test", cfg.Name)
}

func TestParseBool(t *testing.T) {
	assert.True(t, parseBool("true"))
	assert.True(t, parseBool("1"))
	assert.True(t, parseBool("yes"))
	assert.True(t, parseBool("on"))
	assert.False(t, parseBool("false"))
	assert.False(t, parseBool("0"))
	assert.False(t, parseBool("garbage"))
}
