package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ilyakaznacheev/cleanenv"
)

// settings is the flat, string-typed view of ServerConfig read from the
// environment or a config file. Empty values leave the current setting alone.
type settings struct {
	Port        string `yaml:"port" env:"PORT"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`

	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	DBSchema    string `yaml:"db_schema" env:"DB_SCHEMA"`
	AutoMigrate string `yaml:"auto_migrate" env:"AUTO_MIGRATE"`

	StorageURL            string                 `yaml:"storage_url" env:"STORAGE_URL"`
	StorageBackends       []StorageBackendConfig `yaml:"storage_backends"`
	DefaultStorageBackend string                 `yaml:"default_storage_backend" env:"DEFAULT_STORAGE_BACKEND"`
	KeyGenerator          string                 `yaml:"key_generator" env:"KEY_GENERATOR"`
	FileURLPrefix         string                 `yaml:"file_url_prefix" env:"FILE_URL_PREFIX"`

	AWSAccessKeyID     string `yaml:"aws_access_key_id" env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion          string `yaml:"aws_region" env:"AWS_REGION"`

	TokenStoreURL string `yaml:"token_store_url" env:"TOKEN_STORE_URL"`
	TokenTTL      string `yaml:"token_ttl" env:"TOKEN_TTL"`

	JWTSecret        string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	MaxUploadSize    string   `yaml:"max_upload_size" env:"MAX_UPLOAD_SIZE"`
	ExcludedMetaKeys []string `yaml:"excluded_meta_keys" env:"EXCLUDED_META_KEYS" env-separator:","`
	EnableMetrics    string   `yaml:"enable_metrics" env:"ENABLE_METRICS"`
}

// WithEnv applies environment variable overrides.
//
// Server:
//
//	PORT, ENVIRONMENT, LOG_LEVEL
//
// Database:
//
//	DATABASE_URL - "memory" (default) or "postgres://..."
//	DB_SCHEMA    - Postgres schema (default: replace_files)
//	AUTO_MIGRATE - create tables on startup
//
// Storage:
//
//	STORAGE_URL - "memory://", "file:///path/to/data" or
//	              "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true"
//	KEY_GENERATOR - dated, sharded or hashed
//
// Tokens and admin surface:
//
//	TOKEN_STORE_URL    - "memory" or "redis://host:6379/0"
//	TOKEN_TTL          - e.g. "24h"
//	JWT_SECRET         - HS256 secret for admin bearer tokens
//	MAX_UPLOAD_SIZE    - e.g. "64MB"
//	EXCLUDED_META_KEYS - comma separated clone deny-list
//	ENABLE_METRICS     - expose /metrics
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var s settings
		if err := cleanenv.ReadEnv(&s); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return s.apply(c)
	}
}

// WithFile reads a YAML, JSON or TOML config file. Environment variables
// override values from the file.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		var s settings
		if err := cleanenv.ReadConfig(path, &s); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return s.apply(c)
	}
}

func (s *settings) apply(c *ServerConfig) error {
	setString(&c.Port, s.Port)
	setString(&c.Environment, s.Environment)
	setString(&c.LogLevel, s.LogLevel)
	setString(&c.DBSchema, s.DBSchema)
	setString(&c.KeyGenerator, s.KeyGenerator)
	setString(&c.FileURLPrefix, s.FileURLPrefix)
	setString(&c.TokenStoreURL, s.TokenStoreURL)
	setString(&c.JWTSecret, s.JWTSecret)

	if err := setBool(&c.AutoMigrate, "AUTO_MIGRATE", s.AutoMigrate); err != nil {
		return err
	}
	if err := setBool(&c.EnableMetrics, "ENABLE_METRICS", s.EnableMetrics); err != nil {
		return err
	}

	if s.TokenTTL != "" {
		ttl, err := time.ParseDuration(s.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_TTL: %w", err)
		}
		c.TokenTTL = ttl
	}
	if s.MaxUploadSize != "" {
		size, err := humanize.ParseBytes(s.MaxUploadSize)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_SIZE: %w", err)
		}
		c.MaxUploadBytes = int64(size)
	}
	if len(s.ExcludedMetaKeys) > 0 {
		c.ExcludedMetaKeys = nil
		for _, key := range s.ExcludedMetaKeys {
			if key = strings.TrimSpace(key); key != "" {
				c.ExcludedMetaKeys = append(c.ExcludedMetaKeys, key)
			}
		}
	}

	if s.DatabaseURL != "" {
		if err := applyDatabaseURL(s.DatabaseURL, c); err != nil {
			return err
		}
	}

	for _, backend := range s.StorageBackends {
		if backend.Name == "" {
			backend.Name = backend.Type
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
	}
	if s.StorageURL != "" {
		if err := s.applyStorageURL(c); err != nil {
			return err
		}
	}
	setString(&c.DefaultStorageBackend, s.DefaultStorageBackend)

	return nil
}

// applyDatabaseURL sets the database type from the URL scheme
func applyDatabaseURL(dbURL string, c *ServerConfig) error {
	switch {
	case dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
	}
	return nil
}

// applyStorageURL configures the default storage backend from STORAGE_URL
func (s *settings) applyStorageURL(c *ServerConfig) error {
	storageURL := s.StorageURL
	if storageURL == "memory" || storageURL == "memory://" {
		c.DefaultStorageBackend = "memory"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{Name: "memory", Type: "memory"})
		return nil
	}

	u, err := url.Parse(storageURL)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		path := u.Path
		if u.Host != "" {
			// file://relative/dir
			path = u.Host + u.Path
		}
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		backend := StorageBackendConfig{
			Name:   "fs",
			Type:   "fs",
			Config: map[string]interface{}{"base_dir": path},
		}
		c.DefaultStorageBackend = "fs"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil

	case "s3":
		if u.Host == "" {
			return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}
		q := u.Query()
		backend := StorageBackendConfig{
			Name: "s3",
			Type: "s3",
			Config: map[string]interface{}{
				"bucket": u.Host,
				"region": "us-east-1",
			},
		}
		if s.AWSRegion != "" {
			backend.Config["region"] = s.AWSRegion
		}
		if region := q.Get("region"); region != "" {
			backend.Config["region"] = region
		}
		if endpoint := q.Get("endpoint"); endpoint != "" {
			backend.Config["endpoint"] = endpoint
		}
		if pathStyle := q.Get("path_style"); pathStyle != "" {
			backend.Config["use_path_style"] = pathStyle
		}
		if create := q.Get("create_bucket"); create != "" {
			backend.Config["create_bucket_if_not_exist"] = create
		}
		if s.AWSAccessKeyID != "" {
			backend.Config["access_key_id"] = s.AWSAccessKeyID
		}
		if s.AWSSecretAccessKey != "" {
			backend.Config["secret_access_key"] = s.AWSSecretAccessKey
		}
		c.DefaultStorageBackend = "s3"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}

	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", storageURL)
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setBool(dst *bool, name, value string) error {
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean for %s: %w", name, err)
	}
	*dst = parsed
	return nil
}

func upsertStorageBackend(backends []StorageBackendConfig, backend StorageBackendConfig) []StorageBackendConfig {
	if backend.Config == nil {
		backend.Config = map[string]interface{}{}
	}
	for i := range backends {
		if backends[i].Name == backend.Name {
			backends[i] = backend
			return backends
		}
	}
	return append(backends, backend)
}
