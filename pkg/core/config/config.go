// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leseb/storybridge/pkg/provider"
)

// Config represents the main configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Engine      EngineConfig      `yaml:"engine"`
	Relational  RelationalConfig  `yaml:"relational"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	FileStore   FileStoreConfig   `yaml:"file_store"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// EngineConfig contains retrieval engine tuning.
type EngineConfig struct {
	DefaultPerPage      int    `yaml:"default_per_page"`      // default 10
	MaxPerPage          int    `yaml:"max_per_page"`          // default 100, capped at 100
	DefaultSearchK      int    `yaml:"default_search_k"`      // default 5
	MaxSearchK          int    `yaml:"max_search_k"`          // default 100
	SearchOversample    int    `yaml:"search_oversample"`     // default 4
	SearchMinCandidates int    `yaml:"search_min_candidates"` // default 50
	DownloadBasePath    string `yaml:"download_base_path"`    // default "/v1/stories"
}

// RelationalConfig selects and configures the relational store.
type RelationalConfig struct {
	Type       string         `yaml:"type"` // "sqlite" (default), "postgres" or "memory"
	Postgres   PostgresConfig `yaml:"postgres"`
	SQLitePath string         `yaml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DBName   string `yaml:"dbname"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// VectorStoreConfig contains vector store backend configuration
type VectorStoreConfig struct {
	Type          string `yaml:"type"`           // "memory" (default) or "milvus"
	MilvusAddress string `yaml:"milvus_address"` // e.g. "localhost:19530"
	Collection    string `yaml:"collection"`     // default "user_stories"
}

// EmbeddingConfig contains embedding service configuration
type EmbeddingConfig struct {
	Type       string `yaml:"type"`     // "openai" or "hash"; inferred from Endpoint when empty
	Endpoint   string `yaml:"endpoint"` // e.g. "https://api.openai.com/v1"
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`      // e.g. "text-embedding-3-small"
	Dimensions int    `yaml:"dimensions"` // default 1536 (openai) or 256 (hash)
}

// FileStoreConfig selects where CSV exports are kept.
type FileStoreConfig struct {
	Type       string `yaml:"type"` // "memory" (default), "filesystem" or "s3"
	BaseDir    string `yaml:"base_dir"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "text" (default) or "json"
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment variables override file config
	applyEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 60 * time.Second,
		},
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	// Relational store
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Relational.Postgres.Host = v
		cfg.Relational.Type = "postgres"
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Relational.Postgres.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Relational.Postgres.DBName = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Relational.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Relational.Postgres.Password = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Relational.SQLitePath = v
	}

	// Vector store
	if v := os.Getenv("MILVUS_ADDRESS"); v != "" {
		cfg.VectorStore.MilvusAddress = v
		cfg.VectorStore.Type = "milvus"
	}

	// Embedding
	if v := os.Getenv("EMBEDDING_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	// File store
	if v := os.Getenv("FILE_STORE_TYPE"); v != "" {
		cfg.FileStore.Type = v
	}
	if v := os.Getenv("FILE_STORE_BASE_DIR"); v != "" {
		cfg.FileStore.BaseDir = v
	}
	if v := os.Getenv("FILE_STORE_S3_BUCKET"); v != "" {
		cfg.FileStore.S3Bucket = v
	}
	if v := os.Getenv("FILE_STORE_S3_REGION"); v != "" {
		cfg.FileStore.S3Region = v
	}
	if v := os.Getenv("FILE_STORE_S3_ENDPOINT"); v != "" {
		cfg.FileStore.S3Endpoint = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyEngineDefaults(&cfg.Engine)
	applyRelationalDefaults(&cfg.Relational)
	applyVectorStoreDefaults(&cfg.VectorStore)
	applyEmbeddingDefaults(&cfg.Embedding)
	applyFileStoreDefaults(&cfg.FileStore)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
}

// perPageLimit is the hard ceiling on stories per listing page.
const perPageLimit = 100

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.DefaultPerPage <= 0 {
		cfg.DefaultPerPage = 10
	}
	if cfg.MaxPerPage <= 0 || cfg.MaxPerPage > perPageLimit {
		cfg.MaxPerPage = perPageLimit
	}
	if cfg.DefaultPerPage > cfg.MaxPerPage {
		cfg.DefaultPerPage = cfg.MaxPerPage
	}
	if cfg.MaxSearchK <= 0 {
		cfg.MaxSearchK = 100
	}
	if cfg.DefaultSearchK <= 0 {
		cfg.DefaultSearchK = 5
	}
	if cfg.DefaultSearchK > cfg.MaxSearchK {
		cfg.DefaultSearchK = cfg.MaxSearchK
	}
	if cfg.SearchOversample <= 0 {
		cfg.SearchOversample = 4
	}
	if cfg.SearchMinCandidates <= 0 {
		cfg.SearchMinCandidates = 50
	}
	if cfg.DownloadBasePath == "" {
		cfg.DownloadBasePath = "/v1/stories"
	}
}

func applyRelationalDefaults(cfg *RelationalConfig) {
	if cfg.Type == "" {
		cfg.Type = "sqlite"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/storybridge.db"
	}
	pg := &cfg.Postgres
	if pg.Host == "" {
		pg.Host = "localhost"
	}
	if pg.Port == 0 {
		pg.Port = 5432
	}
	if pg.DBName == "" {
		pg.DBName = "storybridge"
	}
	if pg.User == "" {
		pg.User = "postgres"
	}
	if pg.SSLMode == "" {
		pg.SSLMode = "disable"
	}
}

func applyVectorStoreDefaults(cfg *VectorStoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Collection == "" {
		cfg.Collection = "user_stories"
	}
}

func applyEmbeddingDefaults(cfg *EmbeddingConfig) {
	if cfg.Type == "" {
		if cfg.Endpoint != "" || cfg.APIKey != "" {
			cfg.Type = "openai"
		} else {
			cfg.Type = "hash"
		}
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		if cfg.Type == "hash" {
			cfg.Dimensions = 256
		} else {
			cfg.Dimensions = 1536
		}
	}
}

func applyFileStoreDefaults(cfg *FileStoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "data/exports"
	}
}

// DSN builds a PostgreSQL connection URL.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	if c.Password == "" {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Params returns the provider parameters for the configured relational store.
func (c RelationalConfig) Params() provider.Params {
	switch c.Type {
	case "postgres":
		return provider.Params{"dsn": c.Postgres.DSN()}
	case "sqlite":
		return provider.Params{"path": c.SQLitePath}
	default:
		return provider.Params{}
	}
}

// Params returns the provider parameters for the vector store.
func (c VectorStoreConfig) Params() provider.Params {
	return provider.Params{
		"address":    c.MilvusAddress,
		"collection": c.Collection,
	}
}

// Params returns the provider parameters for the embedding client.
func (c EmbeddingConfig) Params() provider.Params {
	return provider.Params{
		"endpoint":   c.Endpoint,
		"api_key":    c.APIKey,
		"model":      c.Model,
		"dimensions": strconv.Itoa(c.Dimensions),
	}
}

// Params returns the provider parameters for the file store.
func (c FileStoreConfig) Params() provider.Params {
	return provider.Params{
		"base_dir": c.BaseDir,
		"bucket":   c.S3Bucket,
		"prefix":   c.S3Prefix,
		"region":   c.S3Region,
		"endpoint": c.S3Endpoint,
	}
}
