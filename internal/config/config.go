package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration for clockd. Values come from an
// optional YAML file overlaid with environment variables; env wins.
type Config struct {
	HTTPPort string `yaml:"http_port"`

	BackendURL        string `yaml:"backend_url"`
	BackendTimeoutSec int    `yaml:"backend_timeout_sec"`

	NATSURL         string `yaml:"nats_url"`
	ControlStream   string `yaml:"control_stream"`
	ControlConsumer string `yaml:"control_consumer"`
	ControlSubject  string `yaml:"control_subject"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTPPort:          "8080",
		BackendURL:        "http://localhost:3000/api",
		BackendTimeoutSec: 10,
		NATSURL:           "nats://localhost:4222",
		ControlStream:     "TOURNAMENT_CONTROL",
		ControlConsumer:   "blindclock-engine",
		ControlSubject:    "tournament.control.>",
	}
}

// Load reads the YAML file at path over the defaults, then applies env
// overrides. A missing file is not an error; env-only deployments are fine.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.HTTPPort = getEnv("PORT", cfg.HTTPPort)
	cfg.BackendURL = getEnv("TOURNAMENT_API_URL", cfg.BackendURL)
	cfg.BackendTimeoutSec = getEnvAsInt("TOURNAMENT_API_TIMEOUT_SEC", cfg.BackendTimeoutSec)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.ControlStream = getEnv("CONTROL_STREAM", cfg.ControlStream)
	cfg.ControlConsumer = getEnv("CONTROL_CONSUMER", cfg.ControlConsumer)
	cfg.ControlSubject = getEnv("CONTROL_SUBJECT", cfg.ControlSubject)

	return cfg, nil
}

// BackendTimeout returns the backend client timeout as a duration.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
