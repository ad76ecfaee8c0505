package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Ship24      Ship24Config      `yaml:"ship24"`
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	ParcelWatch ParcelWatchConfig `yaml:"parcelwatch"`
}

type Ship24Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	PackageUpdatedTopicName string `yaml:"package_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ParcelWatchConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// Sweep interval. Default: every 4 hours; webhooks fill the gaps.
	UpdateIntervalSeconds int `yaml:"update_interval_seconds"`

	// Routing key for the inbound webhook path. Generated when empty.
	WebhookKey string `yaml:"webhook_key"`

	SweepRateLimitPerMinute int `yaml:"sweep_rate_limit_per_minute"`
	MirrorTTLSeconds        int `yaml:"mirror_ttl_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
