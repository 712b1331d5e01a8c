// Package config provides the configuration schema, loader, and backend
// registry for the Rail UK skill server.
package config

import "time"

// LogLevel controls log verbosity for the Rail UK server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler used for process output.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// CatalogSource selects where the station catalog is loaded from.
type CatalogSource string

const (
	// CatalogEmbedded uses the table compiled into the binary.
	CatalogEmbedded CatalogSource = "embedded"

	// CatalogFile reads a "display_name,code" CSV file from catalog.path.
	CatalogFile CatalogSource = "file"

	// CatalogNationalRail uses the station map shipped with the National Rail
	// client library.
	CatalogNationalRail CatalogSource = "national-rail"
)

// IsValid reports whether s is a recognised catalog source.
func (s CatalogSource) IsValid() bool {
	switch s {
	case CatalogEmbedded, CatalogFile, CatalogNationalRail:
		return true
	}
	return false
}

// StoreBackend selects the home station store implementation.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
	StoreDynamoDB StoreBackend = "dynamodb"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StorePostgres, StoreRedis, StoreDynamoDB:
		return true
	}
	return false
}

// Config is the root configuration structure for Rail UK.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
//
// Every section is a comparable value so that [Diff] can detect changes with
// plain equality.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Skill        SkillConfig        `yaml:"skill"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Darwin       DarwinConfig       `yaml:"darwin"`
	TransportAPI TransportAPIConfig `yaml:"transportapi"`
	Rail         RailConfig         `yaml:"rail"`
	Store        StoreConfig        `yaml:"store"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is the only setting applied on reload.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text (default) or JSON output.
	LogFormat LogFormat `yaml:"log_format"`

	// LogFile, when set, sends log output to a rotated file instead of stderr.
	LogFile LogFileConfig `yaml:"log_file"`

	// ShutdownTimeout bounds graceful shutdown. Zero means 15 seconds.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogFileConfig configures rotated file logging.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// SkillConfig identifies the voice skill this server answers for.
type SkillConfig struct {
	// ApplicationID must match session.application.applicationId on every
	// request. Empty disables the check.
	ApplicationID string `yaml:"application_id"`
}

// CatalogConfig selects the station catalog source.
type CatalogConfig struct {
	Source CatalogSource `yaml:"source"`
	Path   string        `yaml:"path"`
}

// DarwinConfig configures the live departure board client.
type DarwinConfig struct {
	Token    string        `yaml:"token"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TransportAPIConfig configures the timetable client.
type TransportAPIConfig struct {
	AppID   string        `yaml:"app_id"`
	AppKey  string        `yaml:"app_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	// CacheSize bounds the timetable response cache. Negative disables it,
	// zero selects the client default.
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// RailConfig tunes the departure service that sits over both providers.
type RailConfig struct {
	// Timezone is the IANA zone departure times are expressed in.
	// Defaults to Europe/London.
	Timezone string `yaml:"timezone"`

	Live      RateLimitConfig `yaml:"live"`
	Timetable RateLimitConfig `yaml:"timetable"`
	Breaker   BreakerConfig   `yaml:"breaker"`
}

// RateLimitConfig caps outbound calls to one provider. A zero rate leaves the
// provider unlimited.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// BreakerConfig configures the per-provider circuit breakers. Zero values
// select the breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// StoreConfig selects and configures the home station store.
type StoreConfig struct {
	// Backend is looked up in the [Registry]. Defaults to "memory".
	Backend StoreBackend `yaml:"backend"`

	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DynamoDBConfig configures the DynamoDB store.
type DynamoDBConfig struct {
	Region string `yaml:"region"`

	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string `yaml:"endpoint"`

	// Table defaults to "RailUK".
	Table string `yaml:"table"`
}
