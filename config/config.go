// Package config loads synckit daemon configuration from TOML files,
// merging file values over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sentinelprime/synckit/bus"
)

// Config is the full daemon configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Bus       BusConfig       `toml:"bus"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8420".
	Addr string `toml:"addr"`

	// APIKey, when set, is required from websocket clients via the
	// X-API-Key header or api_key query parameter.
	APIKey string `toml:"api_key"`

	// WriteTimeout bounds a single websocket write.
	WriteTimeout duration `toml:"write_timeout"`

	// PingInterval for websocket keepalive pings (0 = disabled).
	PingInterval duration `toml:"ping_interval"`
}

// BusConfig configures per-client subscription behavior.
type BusConfig struct {
	// Capacity bounds each client subscription's queue.
	Capacity int `toml:"capacity"`

	// Policy is the overflow policy name: drop, latest or block.
	Policy string `toml:"policy"`

	// BlockTimeout applies under the block policy.
	BlockTimeout duration `toml:"block_timeout"`
}

// LogConfig configures console logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"`
	Insecure bool   `toml:"insecure"`
}

// duration wraps time.Duration for TOML string values ("5s", "100ms").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8420",
			WriteTimeout: duration{10 * time.Second},
			PingInterval: duration{30 * time.Second},
		},
		Bus: BusConfig{
			Capacity:     1000,
			Policy:       "latest",
			BlockTimeout: duration{250 * time.Millisecond},
		},
		Log: LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// Load reads path over the defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate applies the same rejection rules as bus.Subscribe so a bad
// policy or capacity fails at startup, not on the first client.
func (c Config) Validate() error {
	policy, err := bus.ParsePolicy(c.Bus.Policy)
	if err != nil {
		return fmt.Errorf("bus.policy: %w", err)
	}
	opts := bus.SubscribeOptions{
		Capacity:     c.Bus.Capacity,
		Policy:       policy,
		BlockTimeout: c.Bus.BlockTimeout.Duration,
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("bus config: %w", err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	return nil
}

// SubscribeOptions returns the per-client subscription options this
// configuration describes. Call Validate first.
func (c Config) SubscribeOptions(filter string) bus.SubscribeOptions {
	policy, _ := bus.ParsePolicy(c.Bus.Policy)
	return bus.SubscribeOptions{
		Filter:       filter,
		Capacity:     c.Bus.Capacity,
		Policy:       policy,
		BlockTimeout: c.Bus.BlockTimeout.Duration,
	}
}
