package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the daemon configuration, read from config.toml in the
// data directory and overridable through environment variables.
type Config struct {
	DataDir         string      `toml:"data_dir"`
	HTTPAddr        string      `toml:"http_addr"`
	MaxQRAttempts   int         `toml:"max_qr_attempts"`
	SyncLimit       int         `toml:"sync_limit"`
	ConflictBackoff Duration    `toml:"conflict_backoff"`
	Redis           RedisConfig `toml:"redis"`
}

// Duration wraps time.Duration so TOML and env values can spell it as a
// duration string like "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// RedisConfig holds broker connection settings. An empty address disables
// the broker.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:         filepath.Join(home, ".wpphub"),
		HTTPAddr:        ":8080",
		MaxQRAttempts:   5,
		SyncLimit:       100,
		ConflictBackoff: Duration{2 * time.Second},
	}
}

// Load reads config from path, then applies environment overrides. A missing
// file is not an error; defaults are used. A .env file in the working
// directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WPPHUB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("WPPHUB_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("WPPHUB_MAX_QR_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxQRAttempts = n
		}
	}
	if v := os.Getenv("WPPHUB_SYNC_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SyncLimit = n
		}
	}
	if v := os.Getenv("WPPHUB_CONFLICT_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ConflictBackoff = Duration{d}
		}
	}
	if v := os.Getenv("WPPHUB_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("WPPHUB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("WPPHUB_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
}
