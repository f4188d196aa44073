// Package config loads and validates the service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"domain-crawl/pkg/models"
)

// Config holds the configuration for the service.
type Config struct {
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Auth struct {
		Issuer   string `mapstructure:"issuer"`
		ClientID string `mapstructure:"client_id"`
	} `mapstructure:"auth"`
	Worker struct {
		PoolSize       int           `mapstructure:"pool_size"`
		MaxRetries     int           `mapstructure:"max_retries"`
		PollInterval   time.Duration `mapstructure:"poll_interval"`
		ClaimStaleness time.Duration `mapstructure:"claim_staleness"`
		CallTimeout    time.Duration `mapstructure:"call_timeout"`
		DefaultBatch   int           `mapstructure:"default_batch"`
		SourceFilter   string        `mapstructure:"source_filter"`
	} `mapstructure:"worker"`
	Providers []ProviderConfig `mapstructure:"providers"`
	Prompts   []PromptConfig   `mapstructure:"prompts"`

	Debug bool `mapstructure:"debug"`
}

// ProviderConfig describes one provider panel entry as written in config.yaml.
// API keys are not stored in the file; KeyEnvs names the environment
// variables the keys are read from.
type ProviderConfig struct {
	Name          string   `mapstructure:"name"`
	Format        string   `mapstructure:"format"`
	Model         string   `mapstructure:"model"`
	BaseURL       string   `mapstructure:"base_url"`
	KeyEnvs       []string `mapstructure:"key_envs"`
	MinIntervalMS int      `mapstructure:"min_interval_ms"`
}

// PromptConfig is one prompt template entry.
type PromptConfig struct {
	Type     string `mapstructure:"type"`
	Template string `mapstructure:"template"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvPrefix("CRAWL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("worker.pool_size", 4)
	viper.SetDefault("worker.max_retries", 3)
	viper.SetDefault("worker.poll_interval", "5s")
	viper.SetDefault("worker.claim_staleness", "1h")
	viper.SetDefault("worker.call_timeout", "90s")
	viper.SetDefault("worker.default_batch", 50)
}

// Validate checks the invariants that must hold before the service starts.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("config: no providers configured")
	}
	if len(c.Prompts) == 0 {
		return errors.New("config: no prompts configured")
	}
	if c.Worker.PoolSize < 1 {
		return errors.New("config: worker.pool_size must be at least 1")
	}
	if c.Worker.MaxRetries < 0 {
		return errors.New("config: worker.max_retries must not be negative")
	}
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if p.Name == "" {
			return errors.New("config: provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		switch models.WireFormat(p.Format) {
		case models.FormatChat, models.FormatMessage, models.FormatGenerate:
		default:
			return fmt.Errorf("config: provider %q has unknown format %q", p.Name, p.Format)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("config: provider %q has no base_url", p.Name)
		}
	}
	for _, p := range c.Prompts {
		if p.Type == "" || p.Template == "" {
			return errors.New("config: prompt entries need both type and template")
		}
	}
	return nil
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// Panel resolves the configured providers into the runtime panel, reading
// credentials from the environment. Providers whose key env vars are all
// unset stay in the panel with an empty credential set so that calls for
// them fail fast as a configuration error instead of being silently skipped.
func (c *Config) Panel() []*models.Provider {
	panel := make([]*models.Provider, 0, len(c.Providers))
	for _, pc := range c.Providers {
		p := &models.Provider{
			Name:        pc.Name,
			Format:      models.WireFormat(pc.Format),
			Model:       pc.Model,
			BaseURL:     pc.BaseURL,
			MinInterval: time.Duration(pc.MinIntervalMS) * time.Millisecond,
		}
		for _, env := range pc.KeyEnvs {
			if key := os.Getenv(env); key != "" {
				p.Credentials = append(p.Credentials, models.Credential{Provider: pc.Name, Key: key})
			}
		}
		panel = append(panel, p)
	}
	return panel
}

// PromptSpecs returns the configured prompts as immutable specs.
func (c *Config) PromptSpecs() []models.PromptSpec {
	specs := make([]models.PromptSpec, 0, len(c.Prompts))
	for _, p := range c.Prompts {
		specs = append(specs, models.PromptSpec{Type: p.Type, Template: p.Template})
	}
	return specs
}
