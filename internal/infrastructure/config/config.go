// Package config loads tradedesk configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration document.
type Config struct {
	Log     LogConfig     `yaml:"log" json:"log" mapstructure:"log"`
	Server  ServerConfig  `yaml:"server" json:"server" mapstructure:"server"`
	Gateway GatewayConfig `yaml:"gateway" json:"gateway" mapstructure:"gateway"`
	Refresh RefreshConfig `yaml:"refresh" json:"refresh" mapstructure:"refresh"`
	Cancel  CancelConfig  `yaml:"cancel" json:"cancel" mapstructure:"cancel"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level" mapstructure:"level"`
}

// ServerConfig configures the HTTP surface the display layer talks to.
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host" mapstructure:"host"`
	Port            int           `yaml:"port" json:"port" mapstructure:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// GatewayConfig configures calls to the upstream trading gateway.
type GatewayConfig struct {
	// Mode selects the gateway implementation: "sim" for the in-process
	// simulator, anything else is handed to the vendor adapter.
	Mode string `yaml:"mode" json:"mode" mapstructure:"mode"`
	// StreamURL is the websocket push-channel endpoint; empty disables the
	// stream reader.
	StreamURL string `yaml:"stream_url" json:"stream_url" mapstructure:"stream_url"`
	// CallTimeout bounds a single blocking gateway call.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout" mapstructure:"call_timeout"`
	// ReconnectMaxWait caps the push-stream reconnect backoff.
	ReconnectMaxWait time.Duration `yaml:"reconnect_max_wait" json:"reconnect_max_wait" mapstructure:"reconnect_max_wait"`
}

// RefreshConfig configures the debounced account-status refresh.
type RefreshConfig struct {
	// AcquireWait bounds how long a caller waits for the refresh slot before
	// giving way to the refresh already in flight.
	AcquireWait time.Duration `yaml:"acquire_wait" json:"acquire_wait" mapstructure:"acquire_wait"`
	// AccountTimeout bounds each per-account refresh sub-call.
	AccountTimeout time.Duration `yaml:"account_timeout" json:"account_timeout" mapstructure:"account_timeout"`
}

// CancelConfig configures batch cancellation.
type CancelConfig struct {
	// MaxParallelism bounds concurrent in-flight cancel tasks.
	MaxParallelism int `yaml:"max_parallelism" json:"max_parallelism" mapstructure:"max_parallelism"`
	// PerCallTimeout bounds one cancel call inside a batch. Shorter than
	// CallTimeout so worst-case batch latency stays capped.
	PerCallTimeout time.Duration `yaml:"per_call_timeout" json:"per_call_timeout" mapstructure:"per_call_timeout"`
	// SettleDelay is how long a batch waits after its post-batch refresh so
	// the push channel can deliver corroborating events.
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay" mapstructure:"settle_delay"`
	// AutoRefresh controls whether a batch triggers one reconciliation
	// refresh after all tasks settle.
	AutoRefresh bool `yaml:"auto_refresh" json:"auto_refresh" mapstructure:"auto_refresh"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8720)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("gateway.mode", "sim")
	v.SetDefault("gateway.stream_url", "")
	v.SetDefault("gateway.call_timeout", 5*time.Second)
	v.SetDefault("gateway.reconnect_max_wait", 60*time.Second)

	v.SetDefault("refresh.acquire_wait", 100*time.Millisecond)
	v.SetDefault("refresh.account_timeout", 5*time.Second)

	v.SetDefault("cancel.max_parallelism", 5)
	v.SetDefault("cancel.per_call_timeout", 3*time.Second)
	v.SetDefault("cancel.settle_delay", 500*time.Millisecond)
	v.SetDefault("cancel.auto_refresh", true)
}

// Load reads configuration from tradedesk.yaml (working directory, then
// /etc/tradedesk) with TRADEDESK_* environment overrides. A missing file is
// not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("tradedesk")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tradedesk")

	v.SetEnvPrefix("TRADEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that would disable the coordinator's guarantees.
func (c *Config) Validate() error {
	if c.Cancel.MaxParallelism <= 0 {
		return fmt.Errorf("cancel.max_parallelism must be positive, got %d", c.Cancel.MaxParallelism)
	}
	if c.Cancel.PerCallTimeout <= 0 || c.Gateway.CallTimeout <= 0 {
		return fmt.Errorf("gateway timeouts must be positive")
	}
	if c.Cancel.PerCallTimeout > c.Gateway.CallTimeout {
		return fmt.Errorf("cancel.per_call_timeout (%s) must not exceed gateway.call_timeout (%s)",
			c.Cancel.PerCallTimeout, c.Gateway.CallTimeout)
	}
	if c.Refresh.AcquireWait < 0 {
		return fmt.Errorf("refresh.acquire_wait must not be negative")
	}
	return nil
}
