// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"storefront-assistant/internal/common/validation"
)

// Load reads configs/config.yaml, the config.<APP_ENVIRONMENT>.yaml overlay and the environment.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // overlay is optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)
	resolveProviderKeys(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads the first .env found walking up from the working directory.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars replaces ${VAR} placeholders in string values. A placeholder
// whose variable is unset expands to the empty string.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok || !strings.Contains(strVal, "${") {
			continue
		}
		v.Set(key, os.ExpandEnv(strVal))
	}
}

// overrideEmptyConfig fills connection settings still empty after expansion.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Address == "" {
		if val := os.Getenv("REDIS_ADDRESS"); val != "" {
			cfg.Database.Redis.Address = val
		}
	}
	if cfg.Notifications.SNS.TopicARN == "" {
		if val := os.Getenv("PRODUCT_REQUEST_TOPIC_ARN"); val != "" {
			cfg.Notifications.SNS.TopicARN = val
		}
	}
}

// resolveProviderKeys merges keys from each provider's keys_env variable
// (comma separated) after the keys listed in the file, dropping duplicates.
func resolveProviderKeys(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		merged := make([]string, 0, len(p.Keys))
		seen := make(map[string]bool)
		add := func(k string) {
			k = strings.TrimSpace(k)
			if k == "" || seen[k] {
				return
			}
			seen[k] = true
			merged = append(merged, k)
		}

		for _, k := range p.Keys {
			add(k)
		}
		if p.KeysEnv != "" {
			for _, k := range strings.Split(os.Getenv(p.KeysEnv), ",") {
				add(k)
			}
		}
		p.Keys = merged
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "storefront-assistant"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 90000
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Timeout == 0 {
			p.Timeout = 20000
		}
		if p.MaxAttempts == 0 {
			p.MaxAttempts = 3
		}
		if p.KeysEnv == "" && p.ID != "" {
			p.KeysEnv = strings.ToUpper(p.ID) + "_API_KEYS"
		}
		if p.BaseURL == "" {
			switch p.Kind {
			case "groq":
				p.BaseURL = "https://api.groq.com/openai/v1"
			case "gemini":
				p.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
			}
		}
		if p.Temperature == 0 {
			p.Temperature = 0.3
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 2048
		}
	}

	if cfg.Keys.FailureThreshold == 0 {
		cfg.Keys.FailureThreshold = 3
	}
	if cfg.Keys.FailureCooldown == 0 {
		cfg.Keys.FailureCooldown = 30000
	}
	if cfg.Keys.RateLimitCooldown == 0 {
		cfg.Keys.RateLimitCooldown = 60000
	}

	if cfg.Recommendation.ResultTTL == 0 {
		cfg.Recommendation.ResultTTL = 120000
	}
	if cfg.Recommendation.CatalogTTL == 0 {
		cfg.Recommendation.CatalogTTL = 300000
	}
	if cfg.Recommendation.MaxCandidates == 0 {
		cfg.Recommendation.MaxCandidates = 20
	}
	if cfg.Recommendation.DefaultMaxResults == 0 {
		cfg.Recommendation.DefaultMaxResults = 5
	}
	if cfg.Recommendation.HistoryWindow == 0 {
		cfg.Recommendation.HistoryWindow = 6
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "assistant:"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Catalog.Source == "" {
		cfg.Catalog.Source = "postgres"
	}
	if cfg.Catalog.ProductIndex == "" {
		cfg.Catalog.ProductIndex = "products"
	}
	if cfg.Catalog.CategoryIndex == "" {
		cfg.Catalog.CategoryIndex = "categories"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one entry in providers is required")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers[%d].id %q is duplicated", i, p.ID)
		}
		seen[p.ID] = true

		switch p.Kind {
		case "groq", "gemini":
		default:
			return fmt.Errorf("providers[%d].kind must be groq or gemini, got %q", i, p.Kind)
		}
		if p.Model == "" {
			return fmt.Errorf("providers[%d].model is required", i)
		}
	}

	if cfg.Server.AdminToken == "" && cfg.App.Environment != "development" {
		return fmt.Errorf("server.admin_token is required outside development (set ADMIN_TOKEN)")
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", cfg.Cache.Backend)
	}

	switch cfg.Catalog.Source {
	case "postgres":
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	case "elasticsearch":
		if len(cfg.Database.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("database.elasticsearch.addresses is required")
		}
	case "memory":
	default:
		return fmt.Errorf("catalog.source must be postgres, elasticsearch or memory, got %q", cfg.Catalog.Source)
	}

	if cfg.Notifications.SNS.Enabled && cfg.Notifications.SNS.TopicARN == "" {
		return fmt.Errorf("notifications.sns.topic_arn is required when sns is enabled")
	}
	if cfg.Notifications.Email.Enabled && (cfg.Notifications.Email.FromEmail == "" || len(cfg.Notifications.Email.ToEmails) == 0) {
		return fmt.Errorf("notifications.email.from_email and to_emails are required when email is enabled")
	}
	if cfg.Notifications.Email.Enabled {
		for _, addr := range append([]string{cfg.Notifications.Email.FromEmail}, cfg.Notifications.Email.ToEmails...) {
			if !validation.ValidateEmail(addr) {
				return fmt.Errorf("notifications.email address %q is invalid", addr)
			}
		}
	}

	return nil
}
