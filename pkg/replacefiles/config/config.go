package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/replace-files/pkg/replacefiles"
	"github.com/tendant/replace-files/pkg/replacefiles/objectkey"
	"github.com/tendant/replace-files/pkg/replacefiles/repo/memory"
	repopg "github.com/tendant/replace-files/pkg/replacefiles/repo/postgres"
	fsstorage "github.com/tendant/replace-files/pkg/replacefiles/storage/fs"
	memorystorage "github.com/tendant/replace-files/pkg/replacefiles/storage/memory"
	s3storage "github.com/tendant/replace-files/pkg/replacefiles/storage/s3"
	tokenmemory "github.com/tendant/replace-files/pkg/replacefiles/token/memory"
	tokenredis "github.com/tendant/replace-files/pkg/replacefiles/token/redis"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		LogLevel:              "info",
		DatabaseType:          "memory",
		DBSchema:              "replace_files",
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{
				Name:   "memory",
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		TokenStoreURL:    "memory",
		TokenTTL:         replacefiles.DefaultTokenTTL,
		MaxUploadBytes:   64 << 20,
		ExcludedMetaKeys: append([]string(nil), replacefiles.DefaultExcludedMetaKeys...),
		KeyGenerator:     "dated",
		FileURLPrefix:    "/files",
		EnableMetrics:    true,
	}
}

// ServerConfig represents server configuration for the replace-files service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing
	LogLevel    string // debug, info, warn, error

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: replace_files)
	AutoMigrate  bool   // Create tables on startup

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig
	KeyGenerator          string // dated, sharded, hashed
	FileURLPrefix         string

	// Single-use tokens: "memory" or a redis:// URL
	TokenStoreURL string
	TokenTTL      time.Duration

	// Admin surface
	JWTSecret        string
	MaxUploadBytes   int64
	ExcludedMetaKeys []string
	EnableMetrics    bool
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string                 `yaml:"name" json:"name"`
	Type   string                 `yaml:"type" json:"type"` // "memory", "fs", "s3"
	Config map[string]interface{} `yaml:"config" json:"config"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	// Ensure default storage backend exists in configured backends
	found := false
	for _, backend := range c.StorageBackends {
		if backend.Name == c.DefaultStorageBackend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default storage backend '%s' not found in configured backends", c.DefaultStorageBackend)
	}

	if c.TokenStoreURL != "memory" && !strings.HasPrefix(c.TokenStoreURL, "redis://") && !strings.HasPrefix(c.TokenStoreURL, "rediss://") {
		return fmt.Errorf("token_store_url must be 'memory' or a redis URL, got: %s", c.TokenStoreURL)
	}
	if c.TokenTTL <= 0 {
		return errors.New("token_ttl must be positive")
	}

	if _, err := objectkey.ByName(c.KeyGenerator); err != nil {
		return err
	}

	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}

	if c.Environment == "production" && c.JWTSecret == "" {
		return errors.New("jwt_secret is required in production")
	}

	return nil
}

// BuildService creates a Service instance from the server configuration.
// extra options are applied after the configured ones.
func (c *ServerConfig) BuildService(ctx context.Context, extra ...replacefiles.Option) (replacefiles.Service, error) {
	var options []replacefiles.Option

	// Set up repository
	repo, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, replacefiles.WithRepository(repo))

	// Set up storage backends
	for _, backendConfig := range c.StorageBackends {
		store, err := c.buildStorageBackend(backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		options = append(options, replacefiles.WithBlobStore(backendConfig.Name, store))
	}
	options = append(options, replacefiles.WithDefaultStorageBackend(c.DefaultStorageBackend))

	tokens, err := c.buildTokenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build token store: %w", err)
	}

	generator, err := objectkey.ByName(c.KeyGenerator)
	if err != nil {
		return nil, err
	}

	options = append(options,
		replacefiles.WithTokenStore(tokens),
		replacefiles.WithTokenTTL(c.TokenTTL),
		replacefiles.WithKeyGenerator(generator),
		replacefiles.WithExcludedMetaKeys(c.ExcludedMetaKeys...),
		replacefiles.WithFileURLPrefix(c.FileURLPrefix),
	)

	return replacefiles.New(append(options, extra...)...)
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (replacefiles.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, errors.New("database_url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		// Optionally set search_path for the connection
		schema := c.DBSchema
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if schema == "" {
				return nil
			}
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		if c.AutoMigrate {
			if schema != "" {
				if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
					pool.Close()
					return nil, fmt.Errorf("failed to create schema: %w", err)
				}
			}
			if err := repopg.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
// It fails if the schema (when provided) does not exist.
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(config StorageBackendConfig) (replacefiles.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		fsConfig := fsstorage.Config{
			BaseDir:   getString(config.Config, "base_dir", "./data/storage"),
			URLPrefix: getString(config.Config, "url_prefix", ""),
		}
		return fsstorage.New(fsConfig)

	case "s3":
		s3Config := s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			PresignDuration:        getInt(config.Config, "presign_duration", 3600),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		}
		return s3storage.New(s3Config)

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

// buildTokenStore creates the single-use token store
func (c *ServerConfig) buildTokenStore(ctx context.Context) (replacefiles.TokenStore, error) {
	if c.TokenStoreURL == "" || c.TokenStoreURL == "memory" {
		return tokenmemory.New(), nil
	}
	return tokenredis.NewFromURL(ctx, c.TokenStoreURL)
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}

func getInt(config map[string]interface{}, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		if i, ok := value.(int); ok {
			return i
		}
		if str, ok := value.(string); ok {
			if i, err := strconv.Atoi(str); err == nil {
				return i
			}
		}
		if f, ok := value.(float64); ok {
			return int(f)
		}
	}
	return defaultValue
}
