package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// placeholder values shipped in sample configs; treated as unset.
var placeholders = map[string]bool{
	"your_cloud_name":      true,
	"your_api_key":         true,
	"your_api_secret":      true,
	"your_removebg_api_key": true,
}

type CloudinaryConfig struct {
	CloudName string `yaml:"cloud_name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Configured reports whether real credentials are present. The server
// still starts without them; uploads fail with a configuration error.
func (c CloudinaryConfig) Configured() bool {
	if c.CloudName == "" || c.APIKey == "" || c.APISecret == "" {
		return false
	}
	return !placeholders[c.CloudName] && !placeholders[c.APIKey] && !placeholders[c.APISecret]
}

type RemoveBGConfig struct {
	APIKey         string `yaml:"api_key"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c RemoveBGConfig) Configured() bool {
	return c.APIKey != "" && !placeholders[c.APIKey]
}

func (c RemoveBGConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type Config struct {
	ServerAddr    string           `yaml:"server_addr"`
	DatabaseURL   string           `yaml:"database_url"`
	KafkaBroker   string           `yaml:"kafka_broker"`
	KafkaTopic    string           `yaml:"kafka_topic"`
	AuthBrokerURL string           `yaml:"auth_broker_url"`
	CORSOrigins   []string         `yaml:"cors_origins"`
	CookieSecure  bool             `yaml:"cookie_secure"`
	Cloudinary    CloudinaryConfig `yaml:"cloudinary"`
	RemoveBG      RemoveBGConfig   `yaml:"removebg"`
}

// LoadConfig reads the YAML file, applies environment overrides for
// secrets and validates the result. Config is read once here; clients
// receive it at construction and never consult the environment again.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.DatabaseURL, "DATABASE_URL")
	override(&c.KafkaBroker, "KAFKA_BROKER")
	override(&c.AuthBrokerURL, "AUTH_BROKER_URL")
	override(&c.Cloudinary.CloudName, "CLOUDINARY_CLOUD_NAME")
	override(&c.Cloudinary.APIKey, "CLOUDINARY_API_KEY")
	override(&c.Cloudinary.APISecret, "CLOUDINARY_API_SECRET")
	override(&c.RemoveBG.APIKey, "REMOVEBG_API_KEY")
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server_addr is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.AuthBrokerURL == "" {
		return fmt.Errorf("auth_broker_url is required")
	}
	return nil
}
