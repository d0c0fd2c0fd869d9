package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMinIO  = "minio"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Duplicate index implementations.
const (
	IndexScan     = "scan"
	IndexPostgres = "postgres"
	IndexRedis    = "redis"
	IndexLevelDB  = "leveldb"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config aggregates runtime configuration for the upload server.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Storage  StorageConfig
	MinIO    MinIOConfig
	S3       S3Config
	GCS      GCSConfig
	Upload   UploadConfig
	Dedup    DedupConfig
	Lock     LockConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// RedisConfig locates the Redis deployment shared by the Redis index and
// locks. Addrs holds one address, or several for a cluster.
type RedisConfig struct {
	Addrs    []string
	Password string
	DB       int
}

// StorageConfig selects the object store backend and the bucket uploads
// live in.
type StorageConfig struct {
	Backend string
	Bucket  string
}

// MinIOConfig carries MinIO connection information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
}

// S3Config carries AWS S3 connection information. Empty credentials fall
// back to the default AWS credential chain.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// GCSConfig carries Google Cloud Storage connection information. Empty
// values fall back to application default credentials.
type GCSConfig struct {
	CredentialsFile string
	Endpoint        string
}

// UploadConfig tunes the upload engine.
type UploadConfig struct {
	Path        string
	MaxSize     int64
	Overwrite   bool
	Writer      string
	StatOffsets bool
}

// DedupConfig selects the duplicate index.
type DedupConfig struct {
	Index       string
	LevelDBPath string
	RedisPrefix string
}

// LockConfig selects the per-upload lock implementation.
type LockConfig struct {
	Backend     string
	TTL         time.Duration
	RedisPrefix string
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string
	Format string
}

type setting struct {
	key      string
	envs     []string
	fallback any
}

var settings = []setting{
	{"server.host", []string{"TUSDRIVE_API_HOST"}, "0.0.0.0"},
	{"server.port", []string{"TUSDRIVE_API_PORT"}, 8080},
	{"server.read_timeout", []string{"TUSDRIVE_API_READ_TIMEOUT"}, 15 * time.Minute},
	{"server.write_timeout", []string{"TUSDRIVE_API_WRITE_TIMEOUT"}, 15 * time.Minute},
	{"server.idle_timeout", []string{"TUSDRIVE_API_IDLE_TIMEOUT"}, 60 * time.Second},
	{"server.shutdown_timeout", []string{"TUSDRIVE_API_SHUTDOWN_TIMEOUT"}, 10 * time.Second},

	{"postgres.host", []string{"POSTGRES_HOST"}, "localhost"},
	{"postgres.port", []string{"POSTGRES_PORT"}, 5432},
	{"postgres.user", []string{"POSTGRES_USER"}, "tusdrive_app"},
	{"postgres.password", []string{"POSTGRES_PASSWORD"}, "change-me"},
	{"postgres.database", []string{"POSTGRES_DB"}, "tusdrive"},
	{"postgres.ssl_mode", []string{"POSTGRES_SSL_MODE"}, "disable"},
	{"postgres.max_conns", []string{"POSTGRES_MAX_CONNS"}, 10},

	{"redis.addrs", []string{"REDIS_ADDRS", "REDIS_ADDR"}, "localhost:6379"},
	{"redis.password", []string{"REDIS_PASSWORD"}, ""},
	{"redis.db", []string{"REDIS_DB"}, 0},

	{"storage.backend", []string{"STORAGE_BACKEND"}, BackendMinIO},
	{"storage.bucket", []string{"STORAGE_BUCKET", "MINIO_BUCKET"}, "tusdrive"},

	{"minio.endpoint", []string{"MINIO_ENDPOINT"}, "localhost:9000"},
	{"minio.access_key_id", []string{"MINIO_ROOT_USER"}, "tusdrive"},
	{"minio.secret_access_key", []string{"MINIO_ROOT_PASSWORD"}, "change-me-strong-password"},
	{"minio.use_ssl", []string{"MINIO_USE_SSL"}, false},
	{"minio.region", []string{"MINIO_REGION"}, ""},

	{"s3.region", []string{"S3_REGION", "AWS_REGION"}, "us-east-1"},
	{"s3.endpoint", []string{"S3_ENDPOINT"}, ""},
	{"s3.access_key_id", []string{"S3_ACCESS_KEY_ID"}, ""},
	{"s3.secret_access_key", []string{"S3_SECRET_ACCESS_KEY"}, ""},
	{"s3.use_path_style", []string{"S3_USE_PATH_STYLE"}, false},

	{"gcs.credentials_file", []string{"GCS_CREDENTIALS_FILE"}, ""},
	{"gcs.endpoint", []string{"GCS_ENDPOINT"}, ""},

	{"upload.path", []string{"UPLOAD_PATH"}, "elixircloud/csh/v1/object"},
	{"upload.max_size", []string{"UPLOAD_MAX_SIZE"}, "50GiB"},
	{"upload.overwrite", []string{"UPLOAD_OVERWRITE"}, false},
	{"upload.writer", []string{"UPLOAD_WRITER"}, "append"},
	{"upload.stat_offsets", []string{"UPLOAD_STAT_OFFSETS"}, false},

	{"dedup.index", []string{"DEDUP_INDEX"}, IndexPostgres},
	{"dedup.leveldb_path", []string{"DEDUP_LEVELDB_PATH"}, "data/dedup"},
	{"dedup.redis_prefix", []string{"DEDUP_REDIS_PREFIX"}, "tusdrive:dedup:"},

	{"lock.backend", []string{"LOCK_BACKEND"}, LockLocal},
	{"lock.ttl", []string{"LOCK_TTL"}, 30 * time.Second},
	{"lock.redis_prefix", []string{"LOCK_REDIS_PREFIX"}, "tusdrive:lock:"},

	{"metrics.path", []string{"TUSDRIVE_METRICS_PATH"}, "/metrics"},

	{"log.level", []string{"LOG_LEVEL"}, "info"},
	{"log.format", []string{"LOG_FORMAT"}, "json"},
}

// Load reads configuration from the optional YAML file at path, then from
// environment variables, applying defaults. Environment variables win.
func Load(path string) (Config, error) {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.fallback)
		if err := v.BindEnv(append([]string{s.key}, s.envs...)...); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", s.key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	maxSize, err := humanize.ParseBytes(v.GetString("upload.max_size"))
	if err != nil {
		return Config{}, fmt.Errorf("parse upload.max_size: %w", err)
	}
	if maxSize > math.MaxInt64 {
		return Config{}, fmt.Errorf("upload.max_size %s exceeds %d bytes", v.GetString("upload.max_size"), int64(math.MaxInt64))
	}

	cfg := Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Postgres: PostgresConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetInt("postgres.port"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Database: v.GetString("postgres.database"),
			SSLMode:  strings.ToLower(v.GetString("postgres.ssl_mode")),
			MaxConns: v.GetInt32("postgres.max_conns"),
		},
		Redis: RedisConfig{
			Addrs:    splitList(v.GetString("redis.addrs")),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(v.GetString("storage.backend")),
			Bucket:  v.GetString("storage.bucket"),
		},
		MinIO: MinIOConfig{
			Endpoint:        v.GetString("minio.endpoint"),
			AccessKeyID:     v.GetString("minio.access_key_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			UseSSL:          v.GetBool("minio.use_ssl"),
			Region:          v.GetString("minio.region"),
		},
		S3: S3Config{
			Region:          v.GetString("s3.region"),
			Endpoint:        v.GetString("s3.endpoint"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			UsePathStyle:    v.GetBool("s3.use_path_style"),
		},
		GCS: GCSConfig{
			CredentialsFile: v.GetString("gcs.credentials_file"),
			Endpoint:        v.GetString("gcs.endpoint"),
		},
		Upload: UploadConfig{
			Path:        strings.Trim(v.GetString("upload.path"), "/"),
			MaxSize:     int64(maxSize),
			Overwrite:   v.GetBool("upload.overwrite"),
			Writer:      strings.ToLower(v.GetString("upload.writer")),
			StatOffsets: v.GetBool("upload.stat_offsets"),
		},
		Dedup: DedupConfig{
			Index:       strings.ToLower(v.GetString("dedup.index")),
			LevelDBPath: v.GetString("dedup.leveldb_path"),
			RedisPrefix: v.GetString("dedup.redis_prefix"),
		},
		Lock: LockConfig{
			Backend:     strings.ToLower(v.GetString("lock.backend")),
			TTL:         v.GetDuration("lock.ttl"),
			RedisPrefix: v.GetString("lock.redis_prefix"),
		},
		Metrics: MetricsConfig{
			PrometheusPath: v.GetString("metrics.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(oneOf(c.Storage.Backend, BackendMinIO, BackendS3, BackendGCS, BackendMemory),
		"unknown storage.backend %q", c.Storage.Backend)
	check(c.Storage.Bucket != "", "storage.bucket is required")
	check(c.Upload.Path != "", "upload.path is required")
	check(c.Upload.MaxSize > 0, "upload.max_size must be positive")
	check(oneOf(c.Upload.Writer, "append", "rewrite"), "unknown upload.writer %q", c.Upload.Writer)
	check(oneOf(c.Dedup.Index, IndexScan, IndexPostgres, IndexRedis, IndexLevelDB),
		"unknown dedup.index %q", c.Dedup.Index)
	check(c.Dedup.Index != IndexLevelDB || c.Dedup.LevelDBPath != "", "dedup.leveldb_path is required for the leveldb index")
	check(oneOf(c.Lock.Backend, LockLocal, LockRedis), "unknown lock.backend %q", c.Lock.Backend)
	check(c.Lock.TTL > 0, "lock.ttl must be positive")
	check(!c.NeedsRedis() || len(c.Redis.Addrs) > 0, "redis.addrs is required")

	return errors.Join(errs...)
}

// NeedsPostgres reports whether any component is backed by PostgreSQL.
func (c Config) NeedsPostgres() bool {
	return c.Dedup.Index == IndexPostgres
}

// NeedsRedis reports whether any component is backed by Redis.
func (c Config) NeedsRedis() bool {
	return c.Dedup.Index == IndexRedis || c.Lock.Backend == LockRedis
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
