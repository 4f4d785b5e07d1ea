// Package config loads the YAML configuration file with production defaults
// and environment overrides.
package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// AuthConfig points at the identity provider.
type AuthConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CoreAPIConfig points at the core game API.
type CoreAPIConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CaptchaConfig drives the 2Captcha Turnstile solver.
type CaptchaConfig struct {
	APIKey  string `yaml:"api_key"`
	SiteKey string `yaml:"site_key"`
	PageURL string `yaml:"page_url"`
	BaseURL string `yaml:"base_url"`
}

// ServiceConfig is the standalone service account used for player lookups,
// separate from the pooled gem accounts.
type ServiceConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// PoolConfig drives account selection for gift sends.
type PoolConfig struct {
	SharedName  string `yaml:"shared_name"`
	InitialGems int    `yaml:"initial_gems"`
}

// Config is the full application configuration.
type Config struct {
	Listen  string        `yaml:"listen"`
	DBPath  string        `yaml:"db_path"`
	Auth    AuthConfig    `yaml:"auth"`
	CoreAPI CoreAPIConfig `yaml:"core_api"`
	Captcha CaptchaConfig `yaml:"captcha"`
	Service ServiceConfig `yaml:"service"`
	Pool    PoolConfig    `yaml:"pool"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8080",
		DBPath: "gemnexus.db",
		Auth: AuthConfig{
			BaseURL: "https://auth.api-wolvesville.com",
		},
		CoreAPI: CoreAPIConfig{
			BaseURL: "https://core.api-wolvesville.com",
		},
		Captcha: CaptchaConfig{
			SiteKey: "0x4AAAAAAATLZS5RyqlMGxsL",
			PageURL: "https://www.wolvesville.com",
			BaseURL: "https://2captcha.com",
		},
		Pool: PoolConfig{
			SharedName:  "micheal163512",
			InitialGems: 5000,
		},
	}
}

// Load reads the config file at path, applying defaults for anything unset
// and environment overrides for credentials. A missing file is not an error;
// defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Printf("📦 Config file %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Credentials come from the environment when set, so secrets can stay
	// out of the config file.
	if v := os.Getenv("TWOCAPTCHA_API_KEY"); v != "" {
		cfg.Captcha.APIKey = v
	}
	if v := os.Getenv("WOLVESVILLE_EMAIL"); v != "" {
		cfg.Service.Email = v
	}
	if v := os.Getenv("WOLVESVILLE_PASSWORD"); v != "" {
		cfg.Service.Password = v
	}
	if v := os.Getenv("GEMNEXUS_LISTEN"); v != "" {
		cfg.Listen = v
	}

	return cfg, nil
}

// Validate checks that the credentials required for upstream calls are set.
func (c *Config) Validate() error {
	if c.Captcha.APIKey == "" {
		return fmt.Errorf("captcha api_key (or TWOCAPTCHA_API_KEY) must be set")
	}
	if c.Service.Email == "" || c.Service.Password == "" {
		return fmt.Errorf("service email/password (or WOLVESVILLE_EMAIL/WOLVESVILLE_PASSWORD) must be set")
	}
	if c.Pool.SharedName == "" {
		return fmt.Errorf("pool shared_name must be set")
	}
	return nil
}
