package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment names accepted in APP_ENV.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds application configuration.
// Values come from an optional YAML file (CONFIG_FILE) and are then
// overridden by environment variables.
type Config struct {
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
	Env     string `yaml:"env"`

	// GitLab configuration
	GitLabURL          string        `yaml:"gitlab_url"`
	GitLabToken        string        `yaml:"gitlab_token"`
	GitLabProjectID    string        `yaml:"gitlab_project_id"`
	GitLabTimeout      time.Duration `yaml:"gitlab_timeout"`
	GitLabCacheTTL     time.Duration `yaml:"gitlab_cache_ttl"`
	GitLabSyncInterval time.Duration `yaml:"gitlab_sync_interval"`

	// Shared secret GitLab sends in X-Gitlab-Token
	HookSecret string `yaml:"hook_secret"`

	// Session cookie
	SessionName   string        `yaml:"session_name"`
	SessionSecret string        `yaml:"session_secret"`
	SessionMaxAge time.Duration `yaml:"session_max_age"`

	// Storage. An empty MongoURI selects the in-memory store persisted to DataFile.
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	DataFile      string `yaml:"data_file"`

	// Optional NATS relay for live events across replicas
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	// Optional Redis backend for the GitLab response cache
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	LoginRatePerMinute int `yaml:"login_rate_per_minute"`
}

func defaults() *Config {
	return &Config{
		Port:               8080,
		BaseURL:            "/",
		Env:                EnvProduction,
		GitLabURL:          "https://gitlab.com",
		GitLabTimeout:      10 * time.Second,
		GitLabCacheTTL:     30 * time.Second,
		SessionName:        "issuehub_session",
		SessionMaxAge:      24 * time.Hour,
		MongoDatabase:      "issuehub",
		DataFile:           "data/issuehub.json",
		NATSSubject:        "issuehub.issues.events",
		LoginRatePerMinute: 10,
	}
}

// LoadDotEnv reads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from CONFIG_FILE (if set) and environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			c.Port = p
		}
	}

	c.BaseURL = getEnvOrDefault("BASE_URL", c.BaseURL)
	c.Env = getEnvOrDefault("APP_ENV", c.Env)

	c.GitLabURL = strings.TrimRight(getEnvOrDefault("GITLAB_URL", c.GitLabURL), "/")
	c.GitLabToken = getEnvOrDefault("GITLAB_TOKEN", c.GitLabToken)
	c.GitLabProjectID = getEnvOrDefault("GITLAB_PROJECT_ID", c.GitLabProjectID)
	c.GitLabTimeout = getEnvDuration("GITLAB_TIMEOUT", c.GitLabTimeout)
	c.GitLabCacheTTL = getEnvDuration("GITLAB_CACHE_TTL", c.GitLabCacheTTL)
	c.GitLabSyncInterval = getEnvDuration("GITLAB_SYNC_INTERVAL", c.GitLabSyncInterval)

	c.HookSecret = getEnvOrDefault("HOOK_SECRET", c.HookSecret)

	c.SessionName = getEnvOrDefault("SESSION_NAME", c.SessionName)
	c.SessionSecret = getEnvOrDefault("SESSION_SECRET", c.SessionSecret)
	c.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", c.SessionMaxAge)

	c.MongoURI = getEnvOrDefault("MONGO_URI", c.MongoURI)
	c.MongoDatabase = getEnvOrDefault("MONGO_DATABASE", c.MongoDatabase)
	c.DataFile = getEnvOrDefault("DATA_FILE", c.DataFile)

	c.NATSURL = getEnvOrDefault("NATS_URL", c.NATSURL)
	c.NATSSubject = getEnvOrDefault("NATS_SUBJECT", c.NATSSubject)

	c.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)

	c.LoginRatePerMinute = getEnvInt("LOGIN_RATE_PER_MINUTE", c.LoginRatePerMinute)
}

// Validate checks settings the server cannot run without.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET must be set")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	return nil
}

// HasGitLabConfig returns true if GitLab is configured.
func (c *Config) HasGitLabConfig() bool {
	return c.GitLabToken != "" && c.GitLabProjectID != ""
}

// HasWebhookSecret returns true if inbound webhooks can be authenticated.
func (c *Config) HasWebhookSecret() bool {
	return c.HookSecret != ""
}

// UseMongo returns true if issues and users are stored in MongoDB.
func (c *Config) UseMongo() bool {
	return c.MongoURI != ""
}

// IsDevelopment returns true when detailed error pages may be shown.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

func getEnvOrDefault(key, defaultValue string) string {
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

// getEnvDuration accepts Go durations ("30s") or a plain number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
