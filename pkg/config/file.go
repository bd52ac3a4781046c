package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nicktill/ldmon/pkg/selection"
)

// Config is the ldmon configuration file.
//
//	registry: parameters.yaml
//	selections:
//	  - parameters: baseline
//	    event_type: pulser
//	    cuts: is_valid_bl
//	    saving: append
//	storage:
//	  backend: badger
//	  path: ./data/ldmon
//	metadata:
//	  file: metadata.yaml
//	server:
//	  port: "8080"
//	  gc_interval: 10m
type Config struct {
	Registry   string           `yaml:"registry"`
	Selections []selection.Spec `yaml:"selections"`
	Storage    StorageConfig    `yaml:"storage"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Server     ServerConfig     `yaml:"server"`
}

// StorageConfig selects and configures the baseline store backend.
type StorageConfig struct {
	Backend      string      `yaml:"backend"` // memory, badger or minio
	Path         string      `yaml:"path"`
	MaxMemoryMB  int64       `yaml:"max_memory_mb"`
	MaxStorageGB int64       `yaml:"max_storage_gb"`
	Minio        MinioConfig `yaml:"minio"`
}

// MinioConfig configures the object-store backend.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// MetadataConfig points to the hardware metadata source. File wins over PostgresDSN.
type MetadataConfig struct {
	File        string `yaml:"file"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ServerConfig configures ldmon serve.
type ServerConfig struct {
	Port       string `yaml:"port"`
	GCInterval string `yaml:"gc_interval"` // e.g. "10m"
	CacheSize  int    `yaml:"cache_size"`
}

// GetGCInterval returns the badger GC interval, the default when unset or invalid.
func (s *ServerConfig) GetGCInterval() time.Duration {
	d, err := time.ParseDuration(s.GCInterval)
	if err != nil || d <= 0 {
		return BadgerGCInterval
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:      DefaultBackend,
			Path:         DefaultDataDir,
			MaxMemoryMB:  DefaultMaxMemoryMB,
			MaxStorageGB: DefaultMaxStorageGB,
			Minio:        MinioConfig{Bucket: DefaultBucket},
		},
		Server: ServerConfig{
			Port:      DefaultPort,
			CacheSize: ResultCacheSize,
		},
	}
}

// Load reads a configuration file on top of the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the environment.
// Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Printf("⚠️  Failed to load %s: %v", f, err)
		}
	}
}

// ApplyEnv overrides settings from LDMON_* variables. PORT is honoured for the server port.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LDMON_REGISTRY"); v != "" {
		c.Registry = v
	}
	if v := os.Getenv("LDMON_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("LDMON_DATA_DIR"); v != "" {
		c.Storage.Path = v
	}
	c.Storage.MaxMemoryMB = getEnvInt64("LDMON_MAX_MEMORY_MB", c.Storage.MaxMemoryMB)
	c.Storage.MaxStorageGB = getEnvInt64("LDMON_MAX_STORAGE_GB", c.Storage.MaxStorageGB)

	if v := os.Getenv("LDMON_MINIO_ENDPOINT"); v != "" {
		c.Storage.Minio.Endpoint = v
	}
	if v := os.Getenv("LDMON_MINIO_ACCESS_KEY"); v != "" {
		c.Storage.Minio.AccessKey = v
	}
	if v := os.Getenv("LDMON_MINIO_SECRET_KEY"); v != "" {
		c.Storage.Minio.SecretKey = v
	}
	if v := os.Getenv("LDMON_MINIO_BUCKET"); v != "" {
		c.Storage.Minio.Bucket = v
	}
	if v := os.Getenv("LDMON_MINIO_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.Minio.Secure = b
		} else {
			log.Printf("⚠️  Invalid value for LDMON_MINIO_SECURE: %q, keeping %v", v, c.Storage.Minio.Secure)
		}
	}

	if v := os.Getenv("LDMON_METADATA_FILE"); v != "" {
		c.Metadata.File = v
	}
	if v := os.Getenv("LDMON_METADATA_DSN"); v != "" {
		c.Metadata.PostgresDSN = v
	}

	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("LDMON_PORT"); v != "" {
		c.Server.Port = v
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the badger backend")
		}
	case BackendMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return errors.New("storage.minio.endpoint and storage.minio.bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (use memory, badger or minio)", c.Storage.Backend)
	}
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.CacheSize <= 0 {
		c.Server.CacheSize = ResultCacheSize
	}
	return nil
}

// MaxStorageBytes returns the storage limit in bytes.
func (c *Config) MaxStorageBytes() int64 {
	return c.Storage.MaxStorageGB * 1024 * 1024 * 1024
}

// LoadRegistry returns the parameter registry, loading the configured file when set.
func (c *Config) LoadRegistry() (*selection.Registry, error) {
	if c.Registry == "" {
		return selection.DefaultRegistry(), nil
	}
	return selection.LoadRegistry(c.Registry)
}

// BuildSelections validates the configured selections against reg.
func (c *Config) BuildSelections(reg *selection.Registry) ([]selection.Selection, error) {
	out := make([]selection.Selection, 0, len(c.Selections))
	for i, spec := range c.Selections {
		sel, err := selection.New(spec, reg)
		if err != nil {
			return nil, fmt.Errorf("selections[%d]: %w", i, err)
		}
		out = append(out, sel)
	}
	return out, nil
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}
