package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the portfolio bridge.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp"`
	Webhook   WebhookConfig   `toml:"webhook"`
	Gladia    GladiaConfig    `toml:"gladia"`
	Translate TranslateConfig `toml:"translate"`
	Security  SecurityConfig  `toml:"security"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr" env:"BRIDGE_ADDR"`
	AllowedOrigins []string `toml:"allowed_origins" env:"BRIDGE_ALLOWED_ORIGINS"`
}

type WhatsAppConfig struct {
	Token         string `toml:"token" env:"WHATSAPP_TOKEN"`
	PhoneNumberID string `toml:"phone_number_id" env:"WHATSAPP_PHONE_NUMBER_ID"`
	OwnerNumber   string `toml:"owner_number" env:"WHATSAPP_OWNER_NUMBER"`
	APIBaseURL    string `toml:"api_base_url" env:"WHATSAPP_API_BASE_URL"`
}

type WebhookConfig struct {
	VerifyToken string `toml:"verify_token" env:"WHATSAPP_VERIFY_TOKEN"`
	AppSecret   string `toml:"app_secret" env:"WHATSAPP_APP_SECRET"`
}

type GladiaConfig struct {
	APIKey          string   `toml:"api_key" env:"GLADIA_API_KEY"`
	TargetLanguages []string `toml:"target_languages" env:"GLADIA_TARGET_LANGUAGES"`
}

type TranslateConfig struct {
	APIKey string `toml:"api_key" env:"GOOGLE_TRANSLATE_API_KEY"`
}

type SecurityConfig struct {
	Mode       string   `toml:"mode" env:"BRIDGE_GUARD_MODE"`
	Allowed    []string `toml:"allowed" env:"BRIDGE_GUARD_ALLOWED"`
	RateLimit  int      `toml:"rate_limit" env:"BRIDGE_RATE_LIMIT"`
	RateWindow int      `toml:"rate_window" env:"BRIDGE_RATE_WINDOW"`
}

// RateWindowDuration returns the rate window as a duration.
func (s SecurityConfig) RateWindowDuration() time.Duration {
	return time.Duration(s.RateWindow) * time.Second
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8790",
		},
		WhatsApp: WhatsAppConfig{
			OwnerNumber: "237671178991",
		},
		Gladia: GladiaConfig{
			TargetLanguages: []string{"en"},
		},
		Security: SecurityConfig{
			Mode:       "open",
			RateLimit:  10,
			RateWindow: 60,
		},
	}
}

// Load reads configuration from the TOML config file (if it exists) and
// applies environment variable overrides. Env vars always win.
//
// Config file resolution: BRIDGE_CONFIG env var → ~/.config/portfolio-bridge/config.toml → skip.
func Load() (*Config, error) {
	cfg := defaults()

	path := configPath()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("decode config file %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &cfg, nil
}

func configPath() string {
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		return expandHome(p)
	}
	home := os.Getenv("HOME")
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "portfolio-bridge", "config.toml")
}

// Validate checks that the secrets every component depends on are present and
// normalizes the guard mode.
func (c *Config) Validate() error {
	if c.WhatsApp.Token == "" {
		return fmt.Errorf("whatsapp token required (WHATSAPP_TOKEN)")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp phone number id required (WHATSAPP_PHONE_NUMBER_ID)")
	}
	if c.Webhook.VerifyToken == "" {
		return fmt.Errorf("webhook verify token required (WHATSAPP_VERIFY_TOKEN)")
	}

	switch strings.ToLower(c.Security.Mode) {
	case "open", "allowlist":
		c.Security.Mode = strings.ToLower(c.Security.Mode)
	default:
		c.Security.Mode = "open"
	}

	if c.Security.RateWindow <= 0 {
		c.Security.RateWindow = 60
	}

	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
