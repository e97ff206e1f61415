// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Server         ServerConfig         `mapstructure:"server"`
	Providers      []ProviderConfig     `mapstructure:"providers"`
	Keys           KeyPolicyConfig      `mapstructure:"keys"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Catalog        CatalogConfig        `mapstructure:"catalog"`
	Notifications  NotificationConfig   `mapstructure:"notifications"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
	AdminToken   string `mapstructure:"admin_token"`
}

// --- LLM Providers ---

// ProviderConfig describes one LLM vendor. The list order is the fallback order.
type ProviderConfig struct {
	ID                string   `mapstructure:"id"`
	Kind              string   `mapstructure:"kind"` // groq | gemini
	BaseURL           string   `mapstructure:"base_url"`
	Model             string   `mapstructure:"model"`
	Keys              []string `mapstructure:"keys"`
	KeysEnv           string   `mapstructure:"keys_env"`
	Timeout           int      `mapstructure:"timeout_ms"`
	MaxAttempts       int      `mapstructure:"max_attempts"`
	RequestsPerMinute int      `mapstructure:"requests_per_minute"`
	Temperature       float64  `mapstructure:"temperature"`
	MaxTokens         int      `mapstructure:"max_tokens"`
}

// KeyPolicyConfig holds the key health thresholds.
type KeyPolicyConfig struct {
	FailureThreshold  int `mapstructure:"failure_threshold"`
	FailureCooldown   int `mapstructure:"failure_cooldown"`    // milliseconds
	RateLimitCooldown int `mapstructure:"rate_limit_cooldown"` // milliseconds
}

// --- Pipeline ---
type RecommendationConfig struct {
	ResultTTL         int `mapstructure:"result_ttl"`  // milliseconds
	CatalogTTL        int `mapstructure:"catalog_ttl"` // milliseconds
	MaxCandidates     int `mapstructure:"max_candidates"`
	DefaultMaxResults int `mapstructure:"default_max_results"`
	HistoryWindow     int `mapstructure:"history_window"`
}

type CacheConfig struct {
	Backend string `mapstructure:"backend"` // memory | redis
	Prefix  string `mapstructure:"prefix"`
}

// --- Storage ---
type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CatalogConfig selects where products and categories are read from.
type CatalogConfig struct {
	Source        string `mapstructure:"source"` // postgres | elasticsearch | memory
	ProductIndex  string `mapstructure:"product_index"`
	CategoryIndex string `mapstructure:"category_index"`
	FixturesPath  string `mapstructure:"fixtures_path"`
}

// NotificationConfig holds staff alerts for new product requests.
type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	Email struct {
		Enabled   bool     `mapstructure:"enabled"`
		FromEmail string   `mapstructure:"from_email"`
		ToEmails  []string `mapstructure:"to_emails"`
	} `mapstructure:"email"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetProvider returns the provider with the given id.
func (c *Config) GetProvider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
