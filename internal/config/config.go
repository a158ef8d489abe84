// Package config loads service settings from defaults, an optional TOML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvConfigPath names the variable holding the optional TOML file path.
const EnvConfigPath = "SCANDISH_CONFIG"

// Catalog configures the reference product manifest.
type Catalog struct {
	ManifestPath string `toml:"manifest_path"`
	BaseDir      string `toml:"base_dir"`
	DefaultBrand string `toml:"default_brand"`
}

// Server configures the listeners.
type Server struct {
	HTTPAddr        string `toml:"http_addr"`
	GRPCAddr        string `toml:"grpc_addr"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// Auth configures bearer token validation.
type Auth struct {
	JWTSecret   string `toml:"jwt_secret"`
	JWTAudience string `toml:"jwt_audience"`
}

// Storage configures the optional recognition log database and result cache.
// Empty addresses disable the corresponding component.
type Storage struct {
	DatabaseDSN string `toml:"database_dsn"`
	RedisAddr   string `toml:"redis_addr"`
	CacheTTL    string `toml:"cache_ttl"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel string  `toml:"log_level"`
	Catalog  Catalog `toml:"catalog"`
	Server   Server  `toml:"server"`
	Auth     Auth    `toml:"auth"`
	Storage  Storage `toml:"storage"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Catalog: Catalog{
			ManifestPath: "data/ikea_catalog/catalog.json",
			DefaultBrand: "IKEA",
		},
		Server: Server{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: "15s",
		},
		Auth: Auth{
			JWTSecret: "dev-secret",
		},
		Storage: Storage{
			CacheTTL: "10m",
		},
	}
}

// Load builds the configuration. path may be empty, in which case the
// SCANDISH_CONFIG variable is consulted; a missing file is an error only
// when a path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) decodeFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	override(&c.LogLevel, "LOG_LEVEL")
	override(&c.Catalog.ManifestPath, "CATALOG_PATH")
	override(&c.Catalog.BaseDir, "CATALOG_BASE_DIR")
	override(&c.Catalog.DefaultBrand, "DEFAULT_BRAND")
	override(&c.Server.HTTPAddr, "HTTP_ADDR")
	override(&c.Server.GRPCAddr, "GRPC_ADDR")
	override(&c.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT")
	override(&c.Auth.JWTSecret, "JWT_SECRET")
	override(&c.Auth.JWTAudience, "JWT_AUDIENCE")
	override(&c.Storage.DatabaseDSN, "DATABASE_DSN")
	override(&c.Storage.RedisAddr, "REDIS_ADDR")
	override(&c.Storage.CacheTTL, "CACHE_TTL")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Catalog.ManifestPath) == "" {
		return errors.New("catalog.manifest_path is required")
	}
	if strings.TrimSpace(c.Server.HTTPAddr) == "" {
		return errors.New("server.http_addr is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return err
	}
	if _, err := c.CacheTTL(); err != nil {
		return err
	}
	return nil
}

// ShutdownTimeout parses Server.ShutdownTimeout.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	return positiveDuration("server.shutdown_timeout", c.Server.ShutdownTimeout)
}

// CacheTTL parses Storage.CacheTTL.
func (c *Config) CacheTTL() (time.Duration, error) {
	return positiveDuration("storage.cache_ttl", c.Storage.CacheTTL)
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

func override(target *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}
