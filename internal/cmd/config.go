package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML application configuration. Database settings come from
// DB_* environment variables instead (see internal/dbconfig).
type Config struct {
	Room struct {
		Capacity       int      `yaml:"capacity"`
		AllowAnonymous *bool    `yaml:"allow_anonymous"`
		IdleTTL        duration `yaml:"idle_ttl"`
		SweepInterval  duration `yaml:"sweep_interval"`
	} `yaml:"room"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
}

// duration accepts "2h"-style strings in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file means defaults everywhere.
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}
