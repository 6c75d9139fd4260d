// Package config loads cube-build service configuration from YAML plus
// environment overrides, modeled on the teacher's internal/config package
// (config.go/keyring.go; the .env overlay lives in config.go) (SPEC_FULL.md
// AMBIENT STACK).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all settings for the API and worker services.
type Config struct {
	Mode string `yaml:"mode"` // "api", "worker", "local"

	CatalogPath string `yaml:"catalog_path"` // YAML file backing internal/catalog.FileCatalog

	Storage StorageConfig `yaml:"storage"`
	Object  ObjectConfig  `yaml:"object"`
	Queue   QueueConfig   `yaml:"queue"`
	STAC    STACConfig    `yaml:"stac"`
	Worker  WorkerConfig  `yaml:"worker"`
}

type StorageConfig struct {
	Type        string `yaml:"type"` // "postgres", "sqlite"
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type ObjectConfig struct {
	Bucket    string `yaml:"bucket"`
	LocalRoot string `yaml:"local_root"` // filesystem root backing the ObjectStore
}

type QueueConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	StreamLane    string `yaml:"stream_lane"` // Redis list key for stream-lane wake-up messages
	BatchBudget   int    `yaml:"batch_budget"` // bounded in-flight claims per poll (§5)
}

type STACConfig struct {
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second"`
	CacheDBPath        string        `yaml:"cache_db_path"` // bbolt file
	CacheTTL           time.Duration `yaml:"cache_ttl"`
}

type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"max_retries"`      // default 3 (§4.3)
	MergeDeadline   time.Duration `yaml:"merge_deadline"`   // default 90s (§5)
	BlendDeadline   time.Duration `yaml:"blend_deadline"`   // default 240s (§5)
	PublishDeadline time.Duration `yaml:"publish_deadline"` // default 60s (§5)
	PollInterval    time.Duration `yaml:"poll_interval"`    // batch lane idle backoff
	StreamTimeout   time.Duration `yaml:"stream_timeout"`   // BRPOP block duration
	Datacubes       []string      `yaml:"datacubes"`        // datacube IDs this fleet serves
}

// Default returns the baseline configuration before file/env overrides.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode:        "local",
		CatalogPath: filepath.Join(homeDir, ".cubebuilder", "catalog.yaml"),
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(homeDir, ".cubebuilder", "ledger.db"),
		},
		Object: ObjectConfig{
			LocalRoot: filepath.Join(homeDir, ".cubebuilder", "objects"),
		},
		Queue: QueueConfig{
			RedisAddr:   "localhost:6379",
			StreamLane:  "cubebuilder:stream",
			BatchBudget: 256,
		},
		STAC: STACConfig{
			RateLimitPerSecond: 5,
			CacheDBPath:        filepath.Join(homeDir, ".cubebuilder", "stac_cache.db"),
			CacheTTL:           24 * time.Hour,
		},
		Worker: WorkerConfig{
			Concurrency:     8,
			MaxRetries:      3,
			MergeDeadline:   90 * time.Second,
			BlendDeadline:   240 * time.Second,
			PublishDeadline: 60 * time.Second,
			PollInterval:    2 * time.Second,
			StreamTimeout:   5 * time.Second,
		},
	}
}

// Load reads configuration from path (or standard search locations if
// empty), overlaying .env files and CUBEBUILDER_* environment variables.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("catalog_path", cfg.CatalogPath)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("object", cfg.Object)
	v.SetDefault("queue", cfg.Queue)
	v.SetDefault("stac", cfg.STAC)
	v.SetDefault("worker", cfg.Worker)

	v.SetEnvPrefix("CUBEBUILDER")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".cubebuilder")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".cubebuilder"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.Type = "postgres"
		cfg.Storage.PostgresDSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Queue.RedisAddr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		cfg.Queue.RedisPassword = pass
	}
	if rate := os.Getenv("STAC_RATE_LIMIT"); rate != "" {
		if f, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.STAC.RateLimitPerSecond = f
		}
	}
	if token := os.Getenv("STAC_TOKEN"); token != "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			km.SaveSTACToken(token)
		}
	}
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("mode", c.Mode)
	v.Set("catalog_path", c.CatalogPath)
	v.Set("storage", c.Storage)
	v.Set("object", c.Object)
	v.Set("queue", c.Queue)
	v.Set("stac", c.STAC)
	v.Set("worker", c.Worker)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return v.WriteConfigAs(path)
}
