package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Server
	ServerPort string `yaml:"server_port"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Push channel
	SendBuffer int `yaml:"send_buffer"`

	// Scheduler
	SchedulerTick time.Duration `yaml:"scheduler_tick"`

	// Monitoring
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	StallAfter      time.Duration `yaml:"stall_after"`

	// Simulated trainer
	EpochDuration time.Duration `yaml:"epoch_duration"`

	// Logging
	Log LogConfig `yaml:"log"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level    string `yaml:"level"`    // debug | info | warn | error
	Format   string `yaml:"format"`   // json | text
	Filename string `yaml:"filename"` // empty for stdout
}

// Load builds configuration from environment variables, with an optional
// YAML file overlay named by CONFIG_FILE.
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8000"),
		DatabaseURL:     getEnv("DATABASE_URL", "postgres://localhost/experiment_tracker?sslmode=disable"),
		SendBuffer:      getEnvInt("WS_SEND_BUFFER", 64),
		SchedulerTick:   getEnvDuration("SCHEDULER_TICK", time.Second),
		MonitorInterval: getEnvDuration("MONITOR_INTERVAL", 30*time.Second),
		StallAfter:      getEnvDuration("STALL_AFTER", 5*time.Minute),
		EpochDuration:   getEnvDuration("EPOCH_DURATION", 2*time.Second),
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Format:   getEnv("LOG_FORMAT", "text"),
			Filename: getEnv("LOG_FILE", ""),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// fileConfig mirrors Config for the YAML overlay. Durations are strings in
// time.ParseDuration syntax; absent keys leave the env value in place.
type fileConfig struct {
	ServerPort      string     `yaml:"server_port"`
	DatabaseURL     string     `yaml:"database_url"`
	SendBuffer      *int       `yaml:"send_buffer"`
	SchedulerTick   string     `yaml:"scheduler_tick"`
	MonitorInterval string     `yaml:"monitor_interval"`
	StallAfter      string     `yaml:"stall_after"`
	EpochDuration   string     `yaml:"epoch_duration"`
	Log             *LogConfig `yaml:"log"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ServerPort != "" {
		cfg.ServerPort = fc.ServerPort
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.SendBuffer != nil {
		cfg.SendBuffer = *fc.SendBuffer
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{fc.SchedulerTick, &cfg.SchedulerTick},
		{fc.MonitorInterval, &cfg.MonitorInterval},
		{fc.StallAfter, &cfg.StallAfter},
		{fc.EpochDuration, &cfg.EpochDuration},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		*d.dst = v
	}

	if fc.Log != nil {
		if fc.Log.Level != "" {
			cfg.Log.Level = fc.Log.Level
		}
		if fc.Log.Format != "" {
			cfg.Log.Format = fc.Log.Format
		}
		if fc.Log.Filename != "" {
			cfg.Log.Filename = fc.Log.Filename
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
