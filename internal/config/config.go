package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	StoreDriver        string        `mapstructure:"STORE_DRIVER"`
	DatabasePath       string        `mapstructure:"DATABASE_PATH"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DBOpenTimeout      time.Duration `mapstructure:"DB_OPEN_TIMEOUT"`
	StorageDir         string        `mapstructure:"STORAGE_DIR"`
	ImageQuality       int           `mapstructure:"IMAGE_QUALITY"`
	ImageMaxDimension  int           `mapstructure:"IMAGE_MAX_DIMENSION"`
	DefaultPatientName string        `mapstructure:"DEFAULT_PATIENT_NAME"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_PATH", "DATABASE_URL",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "DB_OPEN_TIMEOUT", "STORAGE_DIR",
	"IMAGE_QUALITY", "IMAGE_MAX_DIMENSION", "DEFAULT_PATIENT_NAME", "CORS_ORIGINS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_PATH", "pillfolio.db")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_OPEN_TIMEOUT", "15s")
	v.SetDefault("STORAGE_DIR", "data")
	v.SetDefault("IMAGE_QUALITY", 70)
	v.SetDefault("IMAGE_MAX_DIMENSION", 2048)
	v.SetDefault("DEFAULT_PATIENT_NAME", "Me")
	v.SetDefault("CORS_ORIGINS", "http://localhost:8081")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CacheDir holds intermediate compressed images.
func (c *Config) CacheDir() string {
	return filepath.Join(c.StorageDir, "cache")
}

// Validate checks that the configuration can open a store and write images.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when STORE_DRIVER is \"sqlite\"")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is \"postgres\"")
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be \"sqlite\" or \"postgres\", got %q", c.StoreDriver)
	}

	if c.DBOpenTimeout <= 0 {
		return fmt.Errorf("DB_OPEN_TIMEOUT must be positive, got %s", c.DBOpenTimeout)
	}
	if c.StorageDir == "" {
		return fmt.Errorf("STORAGE_DIR is required")
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		return fmt.Errorf("IMAGE_QUALITY must be between 1 and 100, got %d", c.ImageQuality)
	}
	if c.ImageMaxDimension < 0 {
		return fmt.Errorf("IMAGE_MAX_DIMENSION must not be negative, got %d", c.ImageMaxDimension)
	}
	return nil
}
