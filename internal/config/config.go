// Package config loads service configuration from a YAML file with
// environment variable overrides. Defaults are usable for local
// development against a single DGraph Alpha and an Ollama instance.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Graph     GraphConfig     `yaml:"graph"`
	Model     ModelConfig     `yaml:"model"`
	FactIndex FactIndexConfig `yaml:"fact_index"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// GraphConfig controls the DGraph connection.
type GraphConfig struct {
	Address        string        `yaml:"address"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ModelConfig controls the chat and embedding model clients.
type ModelConfig struct {
	ChatBaseURL  string        `yaml:"chat_base_url"`
	ChatModel    string        `yaml:"chat_model"`
	APIKey       string        `yaml:"api_key"`
	EmbedBaseURL string        `yaml:"embed_base_url"`
	EmbedModel   string        `yaml:"embed_model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
}

// FactIndexConfig controls the on-disk fact index.
type FactIndexConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig controls the optional recent-episode cache. An empty
// address disables it.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig controls the optional event mirror. An empty URL disables
// it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// AuthConfig selects how user identity reaches the service. Mode
// "explicit" trusts the user_id field in each request; mode "token"
// derives it from the JWT bearer token instead.
type AuthConfig struct {
	Mode      string `yaml:"mode"`
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8000",
			ReadTimeout:    120 * time.Second,
			WriteTimeout:   120 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxUploadBytes: 16 << 20,
		},
		Graph: GraphConfig{
			Address:        "localhost:9080",
			MaxRetries:     5,
			RetryInterval:  2 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Model: ModelConfig{
			ChatBaseURL:  "http://localhost:11434/v1",
			ChatModel:    "llama3.1:8b",
			EmbedBaseURL: "http://localhost:11434",
			EmbedModel:   "nomic-embed-text",
			Timeout:      60 * time.Second,
			MaxTokens:    1024,
			Temperature:  0.2,
		},
		FactIndex: FactIndexConfig{
			Path: "data/factindex.bleve",
		},
		NATS: NATSConfig{
			Subject: "memory.events.graph_updated",
		},
		Auth: AuthConfig{
			Mode: "explicit",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; env-only
// deployments are common.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "SERVER_ADDR")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	setString(&c.Graph.Address, "DGRAPH_ADDR")
	setString(&c.Model.ChatBaseURL, "CHAT_BASE_URL")
	setString(&c.Model.ChatModel, "CHAT_MODEL")
	setString(&c.Model.APIKey, "MODEL_API_KEY")
	setString(&c.Model.EmbedBaseURL, "EMBED_BASE_URL")
	setString(&c.Model.EmbedModel, "EMBED_MODEL")
	setString(&c.FactIndex.Path, "FACT_INDEX_PATH")
	setString(&c.Redis.Address, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.NATS.Subject, "NATS_SUBJECT")
	setString(&c.Auth.Mode, "AUTH_MODE")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
}

func (c *Config) validate() error {
	switch c.Auth.Mode {
	case "explicit":
	case "token":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth mode %q requires jwt_secret", c.Auth.Mode)
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	if c.Graph.Address == "" {
		return fmt.Errorf("graph address must not be empty")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
