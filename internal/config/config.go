package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	CatalogBackendObjectStore = "objectstore"
	CatalogBackendPostgres    = "postgres"

	ObjectStoreBackendLocal = "local"
	ObjectStoreBackendS3    = "s3"

	IndexBackendMemory = "memory"
	IndexBackendQdrant = "qdrant"

	CacheBackendNone     = "none"
	CacheBackendMemory   = "memory"
	CacheBackendPostgres = "postgres"

	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderHash   = "hash"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Catalog       CatalogConfig
	ObjectStore   ObjectStoreConfig
	Source        SourceConfig
	Warehouse     WarehouseConfig
	Index         IndexConfig
	Selector      SelectorConfig
	Cache         CacheConfig
	Embedding     EmbeddingConfig
	AI            AIConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AskTimeout bounds one pipeline run. It must leave room under
	// WriteTimeout for the error response to reach the client.
	AskTimeout   time.Duration
}

type CatalogConfig struct {
	Backend         string
	Prefix          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// IntegrityInterval is how often the maintenance loop verifies that every
	// catalog entry still has its table and row index.
	IntegrityInterval time.Duration
}

type ObjectStoreConfig struct {
	Backend          string
	LocalDir         string
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type SourceConfig struct {
	Prefix        string
	PreviewRows   int
	WorkDirPrefix string
}

type WarehouseConfig struct {
	Path string
}

type IndexConfig struct {
	Backend      string
	Prefix       string
	RowTopK      int
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantUseTLS bool
}

type SelectorConfig struct {
	TopK int
}

type CacheConfig struct {
	Backend           string
	DistanceThreshold float64
	MaxEntries        int
	FailOpen          bool
	RetentionInterval time.Duration
	MaxAge            time.Duration
}

type EmbeddingConfig struct {
	Provider  string
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

type AIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	SQLDialect  string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("TABLEQA_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid TABLEQA_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "TABLEQA_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "TABLEQA_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "TABLEQA_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "TABLEQA_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "TABLEQA_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyDuration(lookup, "TABLEQA_ASK_TIMEOUT", &cfg.HTTP.AskTimeout) },

		func() error { return applyString(lookup, "TABLEQA_CATALOG_BACKEND", &cfg.Catalog.Backend) },
		func() error { return applyString(lookup, "TABLEQA_CATALOG_PREFIX", &cfg.Catalog.Prefix) },
		func() error { return applyString(lookup, "TABLEQA_CATALOG_DSN", &cfg.Catalog.DSN) },
		func() error { return applyInt(lookup, "TABLEQA_CATALOG_MAX_OPEN_CONNS", &cfg.Catalog.MaxOpenConns) },
		func() error { return applyInt(lookup, "TABLEQA_CATALOG_MAX_IDLE_CONNS", &cfg.Catalog.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "TABLEQA_CATALOG_CONN_MAX_IDLE_TIME", &cfg.Catalog.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "TABLEQA_CATALOG_CONN_MAX_LIFETIME", &cfg.Catalog.ConnMaxLifetime)
		},
		func() error {
			return applyDuration(lookup, "TABLEQA_CATALOG_INTEGRITY_INTERVAL", &cfg.Catalog.IntegrityInterval)
		},

		func() error { return applyString(lookup, "TABLEQA_OBJECTSTORE_BACKEND", &cfg.ObjectStore.Backend) },
		func() error { return applyString(lookup, "TABLEQA_OBJECTSTORE_LOCAL_DIR", &cfg.ObjectStore.LocalDir) },
		func() error { return applyString(lookup, "TABLEQA_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "TABLEQA_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "TABLEQA_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "TABLEQA_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "TABLEQA_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "TABLEQA_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "TABLEQA_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "TABLEQA_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyString(lookup, "TABLEQA_SOURCE_PREFIX", &cfg.Source.Prefix) },
		func() error { return applyInt(lookup, "TABLEQA_SOURCE_PREVIEW_ROWS", &cfg.Source.PreviewRows) },
		func() error { return applyString(lookup, "TABLEQA_WAREHOUSE_PATH", &cfg.Warehouse.Path) },

		func() error { return applyString(lookup, "TABLEQA_INDEX_BACKEND", &cfg.Index.Backend) },
		func() error { return applyString(lookup, "TABLEQA_INDEX_PREFIX", &cfg.Index.Prefix) },
		func() error { return applyInt(lookup, "TABLEQA_INDEX_ROW_TOP_K", &cfg.Index.RowTopK) },
		func() error { return applyString(lookup, "TABLEQA_QDRANT_HOST", &cfg.Index.QdrantHost) },
		func() error { return applyInt(lookup, "TABLEQA_QDRANT_PORT", &cfg.Index.QdrantPort) },
		func() error { return applyString(lookup, "TABLEQA_QDRANT_API_KEY", &cfg.Index.QdrantAPIKey) },
		func() error { return applyBool(lookup, "TABLEQA_QDRANT_USE_TLS", &cfg.Index.QdrantUseTLS) },
		func() error { return applyInt(lookup, "TABLEQA_SELECTOR_TOP_K", &cfg.Selector.TopK) },

		func() error { return applyString(lookup, "TABLEQA_CACHE_BACKEND", &cfg.Cache.Backend) },
		func() error {
			return applyFloat(lookup, "TABLEQA_CACHE_DISTANCE_THRESHOLD", &cfg.Cache.DistanceThreshold)
		},
		func() error { return applyInt(lookup, "TABLEQA_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries) },
		func() error { return applyBool(lookup, "TABLEQA_CACHE_FAIL_OPEN", &cfg.Cache.FailOpen) },
		func() error {
			return applyDuration(lookup, "TABLEQA_CACHE_RETENTION_INTERVAL", &cfg.Cache.RetentionInterval)
		},
		func() error { return applyDuration(lookup, "TABLEQA_CACHE_MAX_AGE", &cfg.Cache.MaxAge) },

		func() error { return applyString(lookup, "TABLEQA_EMBEDDING_PROVIDER", &cfg.Embedding.Provider) },
		func() error { return applyString(lookup, "TABLEQA_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL) },
		func() error { return applyString(lookup, "TABLEQA_EMBEDDING_API_KEY", &cfg.Embedding.APIKey) },
		func() error { return applyString(lookup, "TABLEQA_EMBEDDING_MODEL", &cfg.Embedding.Model) },
		func() error { return applyInt(lookup, "TABLEQA_EMBEDDING_DIMENSION", &cfg.Embedding.Dimension) },
		func() error { return applyInt(lookup, "TABLEQA_EMBEDDING_BATCH_SIZE", &cfg.Embedding.BatchSize) },
		func() error { return applyDuration(lookup, "TABLEQA_EMBEDDING_TIMEOUT", &cfg.Embedding.Timeout) },

		func() error { return applyString(lookup, "TABLEQA_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "TABLEQA_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "TABLEQA_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "TABLEQA_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "TABLEQA_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyString(lookup, "TABLEQA_AI_SQL_DIALECT", &cfg.AI.SQLDialect) },

		func() error { return applyBool(lookup, "TABLEQA_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "TABLEQA_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "TABLEQA_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "TABLEQA_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	// The embeddings endpoint usually shares the chat credentials.
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.AI.APIKey
	}
	if cfg.HTTP.AskTimeout == 0 {
		cfg.HTTP.AskTimeout = DefaultAskTimeout(cfg.HTTP.WriteTimeout)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAskTimeout leaves a tenth of the write timeout, capped at five
// seconds, for writing the timeout response. Zero write timeout means the
// server never cuts the connection, so asks get the full two minutes.
func DefaultAskTimeout(writeTimeout time.Duration) time.Duration {
	if writeTimeout <= 0 {
		return 2 * time.Minute
	}
	return writeTimeout - min(writeTimeout/10, askResponseMargin)
}

const askResponseMargin = 5 * time.Second

func validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if cfg.HTTP.AskTimeout <= 0 {
		return fmt.Errorf("ask timeout must be > 0")
	}
	if cfg.HTTP.WriteTimeout > 0 && cfg.HTTP.AskTimeout >= cfg.HTTP.WriteTimeout {
		return fmt.Errorf("ask timeout %s must be below http write timeout %s", cfg.HTTP.AskTimeout, cfg.HTTP.WriteTimeout)
	}
	if err := oneOf("catalog backend", cfg.Catalog.Backend, CatalogBackendObjectStore, CatalogBackendPostgres); err != nil {
		return err
	}
	if err := oneOf("object store backend", cfg.ObjectStore.Backend, ObjectStoreBackendLocal, ObjectStoreBackendS3); err != nil {
		return err
	}
	if err := oneOf("index backend", cfg.Index.Backend, IndexBackendMemory, IndexBackendQdrant); err != nil {
		return err
	}
	if err := oneOf("cache backend", cfg.Cache.Backend, CacheBackendNone, CacheBackendMemory, CacheBackendPostgres); err != nil {
		return err
	}
	if err := oneOf("embedding provider", cfg.Embedding.Provider, EmbeddingProviderOpenAI, EmbeddingProviderHash); err != nil {
		return err
	}
	if cfg.Catalog.Backend == CatalogBackendPostgres && cfg.Catalog.DSN == "" {
		return fmt.Errorf("catalog dsn is required for the postgres catalog")
	}
	if cfg.Cache.Backend == CacheBackendPostgres && cfg.Catalog.DSN == "" {
		return fmt.Errorf("catalog dsn is required for the postgres cache")
	}
	if cfg.Cache.DistanceThreshold < 0 || cfg.Cache.DistanceThreshold > 2 {
		return fmt.Errorf("cache distance threshold must be within [0, 2]")
	}
	if cfg.Selector.TopK <= 0 {
		return fmt.Errorf("selector top k must be > 0")
	}
	if cfg.Index.RowTopK < 0 {
		return fmt.Errorf("index row top k must be >= 0")
	}
	if cfg.Warehouse.Path == "" {
		return fmt.Errorf("warehouse path is required")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "tableqa"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Catalog: CatalogConfig{
			Backend:           CatalogBackendObjectStore,
			Prefix:            "WikiTableQuestions_TableInfo",
			MaxOpenConns:      10,
			MaxIdleConns:      10,
			ConnMaxIdleTime:   5 * time.Minute,
			ConnMaxLifetime:   30 * time.Minute,
			IntegrityInterval: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Backend:          ObjectStoreBackendLocal,
			LocalDir:         ".",
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "tableqa",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			AutoCreateBucket: true,
		},
		Source: SourceConfig{
			Prefix:      "WikiTableQuestions/csv/200-csv",
			PreviewRows: 10,
		},
		Warehouse: WarehouseConfig{
			Path: "wiki_table_questions.duckdb",
		},
		Index: IndexConfig{
			Backend:    IndexBackendMemory,
			Prefix:     "table_index_dir",
			RowTopK:    2,
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Selector: SelectorConfig{
			TopK: 3,
		},
		Cache: CacheConfig{
			Backend:           CacheBackendMemory,
			DistanceThreshold: 0.1,
			MaxEntries:        1000,
			FailOpen:          false,
			RetentionInterval: 10 * time.Minute,
			MaxAge:            24 * time.Hour,
		},
		Embedding: EmbeddingConfig{
			Provider:  EmbeddingProviderOpenAI,
			BaseURL:   "https://api.openai.com",
			Model:     "text-embedding-3-small",
			Dimension: 256,
			BatchSize: 64,
			Timeout:   30 * time.Second,
		},
		AI: AIConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			Timeout:     60 * time.Second,
			SQLDialect:  "duckdb",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Embedding.Provider = EmbeddingProviderHash
		cfg.Cache.Backend = CacheBackendNone
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func oneOf(field, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: expected one of %s", field, value, strings.Join(allowed, "|"))
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
