package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port         int
	WorkerTokens map[string]struct{}
}

// NATSConfig holds event bus connection settings.
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// HeartbeatConfig holds liveness monitoring settings.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// SchedulerConfig holds task store settings.
type SchedulerConfig struct {
	SweepInterval time.Duration
}

// ScalerConfig holds auto-scaling settings. An empty worker image disables
// scaling entirely.
type ScalerConfig struct {
	MinWorkers         int
	MaxWorkers         int
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	Cooldown           time.Duration
	Interval           time.Duration
	WorkerImage        string
	WorkerEnv          []string
}

// AggregatorConfig holds result aggregation settings.
type AggregatorConfig struct {
	Window int
}

// StorageConfig holds result log settings. Retention bounds how long attempt
// rows are kept; zero disables pruning.
type StorageConfig struct {
	Path      string
	Retention time.Duration
}

// Config is the full coordinator configuration.
type Config struct {
	Server     ServerConfig
	NATS       NATSConfig
	Heartbeat  HeartbeatConfig
	Scheduler  SchedulerConfig
	Scaler     ScalerConfig
	Aggregator AggregatorConfig
	Storage    StorageConfig
}

// Load reads configuration from ./config/config.yaml with environment
// overrides (prefix COORDINATOR_). A missing file falls back to defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("coordinator")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_tokens", []string{})
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("heartbeat.interval", "10s")
	v.SetDefault("heartbeat.timeout", "30s")
	v.SetDefault("scheduler.sweep_interval", "5s")
	v.SetDefault("scaler.min_workers", 1)
	v.SetDefault("scaler.max_workers", 10)
	v.SetDefault("scaler.scale_up_threshold", 0.8)
	v.SetDefault("scaler.scale_down_threshold", 0.3)
	v.SetDefault("scaler.cooldown", "60s")
	v.SetDefault("scaler.interval", "15s")
	v.SetDefault("scaler.worker_image", "")
	v.SetDefault("scaler.worker_env", []string{})
	v.SetDefault("aggregator.window", 1024)
	v.SetDefault("storage.path", "task_results.db")
	v.SetDefault("storage.retention", "720h")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	tokens := make(map[string]struct{})
	for _, t := range v.GetStringSlice("server.worker_tokens") {
		t = strings.TrimSpace(t)
		if t != "" {
			tokens[t] = struct{}{}
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:         v.GetInt("server.port"),
			WorkerTokens: tokens,
		},
		NATS: NATSConfig{
			URL:            v.GetString("nats.url"),
			MaxReconnects:  v.GetInt("nats.max_reconnects"),
			ReconnectWait:  v.GetDuration("nats.reconnect_wait"),
			ConnectTimeout: v.GetDuration("nats.connect_timeout"),
		},
		Heartbeat: HeartbeatConfig{
			Interval: v.GetDuration("heartbeat.interval"),
			Timeout:  v.GetDuration("heartbeat.timeout"),
		},
		Scheduler: SchedulerConfig{
			SweepInterval: v.GetDuration("scheduler.sweep_interval"),
		},
		Scaler: ScalerConfig{
			MinWorkers:         v.GetInt("scaler.min_workers"),
			MaxWorkers:         v.GetInt("scaler.max_workers"),
			ScaleUpThreshold:   v.GetFloat64("scaler.scale_up_threshold"),
			ScaleDownThreshold: v.GetFloat64("scaler.scale_down_threshold"),
			Cooldown:           v.GetDuration("scaler.cooldown"),
			Interval:           v.GetDuration("scaler.interval"),
			WorkerImage:        v.GetString("scaler.worker_image"),
			WorkerEnv:          v.GetStringSlice("scaler.worker_env"),
		},
		Aggregator: AggregatorConfig{
			Window: v.GetInt("aggregator.window"),
		},
		Storage: StorageConfig{
			Path:      v.GetString("storage.path"),
			Retention: v.GetDuration("storage.retention"),
		},
	}, nil
}
