package utils

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"carpulse/pkg/database"
)

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTIssuer   string        `yaml:"jwt_issuer"`
	JWTDuration time.Duration `yaml:"jwt_duration"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type NaverConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
}

type Config struct {
	DataDir  string            `yaml:"data_dir"`
	LogMode  string            `yaml:"log_mode"`
	HTTPAddr string            `yaml:"http_addr"`
	Database DatabaseConfig    `yaml:"database"`
	Brands   map[string]string `yaml:"brands"`
	Naver    NaverConfig       `yaml:"naver"`
	Auth     AuthConfig        `yaml:"auth"`
}

func DefaultConfig() Config {
	return Config{
		DataDir:  "data",
		LogMode:  "dev",
		HTTPAddr: ":8080",
		Brands: map[string]string{
			"hyundai": "현대",
			"kia":     "기아",
		},
		Auth: AuthConfig{
			JWTIssuer:   "carpulse",
			JWTDuration: 24 * time.Hour,
		},
	}
}

// LoadConfig reads an optional YAML file on top of the defaults and then
// applies environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DataDir, "CARPULSE_DATA_DIR")
	setString(&cfg.LogMode, "CARPULSE_LOG_MODE")
	setString(&cfg.HTTPAddr, "CARPULSE_HTTP_ADDR")
	setString(&cfg.Database.Driver, "CARPULSE_DB_DRIVER")
	setString(&cfg.Database.DSN, "CARPULSE_DB_DSN")
	setString(&cfg.Naver.ClientID, "NAVER_CLIENT_ID")
	setString(&cfg.Naver.ClientSecret, "NAVER_CLIENT_SECRET")
	setString(&cfg.Naver.BaseURL, "NAVER_DATALAB_URL")
	setString(&cfg.Auth.JWTSecret, "CARPULSE_JWT_SECRET")
	setString(&cfg.Auth.JWTIssuer, "CARPULSE_JWT_ISSUER")

	// hours; a bad value keeps whatever was configured
	if ttl := strings.TrimSpace(os.Getenv("CARPULSE_JWT_TTL_HOURS")); ttl != "" {
		if h, err := strconv.Atoi(ttl); err == nil && h > 0 {
			cfg.Auth.JWTDuration = time.Duration(h) * time.Hour
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

// BrandName maps a crawler brand code ("kia") to its stored brand name.
func (c Config) BrandName(code string) (string, bool) {
	name, ok := c.Brands[strings.ToLower(strings.TrimSpace(code))]
	return name, ok
}

// BrandCodes returns the configured brand codes in a stable order.
func (c Config) BrandCodes() []string {
	codes := make([]string, 0, len(c.Brands))
	for code := range c.Brands {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// DB returns the store settings, falling back to the local SQLite default
// for anything left unset.
func (c Config) DB() database.Config {
	out := database.DefaultConfig()
	if c.Database.Driver != "" {
		out.Driver = c.Database.Driver
	}
	if c.Database.DSN != "" {
		out.DSN = c.Database.DSN
	}
	return out
}
