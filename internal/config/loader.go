package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr = ":8080"
	DefaultTimezone   = "Europe/London"
)

// Environment variables read by [ApplyEnv].
const (
	EnvSkillID          = "RAILUK_SKILL_ID"
	EnvDarwinToken      = "OPEN_LDBWS_ACCESS_TOKEN"
	EnvTransportAPIID   = "TRANSPORT_API_APP_ID"
	EnvTransportAPIKey  = "TRANSPORT_API_KEY"
	EnvPostgresDSN      = "RAILUK_POSTGRES_DSN"
	EnvRedisAddr        = "RAILUK_REDIS_ADDR"
	EnvRedisPassword    = "RAILUK_REDIS_PASSWORD"
	EnvRedisDB          = "RAILUK_REDIS_DB"
	EnvDynamoDBTable    = "RAILUK_DYNAMODB_TABLE"
	EnvDynamoDBEndpoint = "RAILUK_DYNAMODB_ENDPOINT"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	setDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Catalog.Source == "" {
		cfg.Catalog.Source = CatalogEmbedded
	}
	if cfg.Rail.Timezone == "" {
		cfg.Rail.Timezone = DefaultTimezone
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Credentials are not checked here because they may still arrive through
// [ApplyEnv].
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	lf := cfg.Server.LogFile
	if lf.MaxSizeMB < 0 || lf.MaxBackups < 0 || lf.MaxAgeDays < 0 {
		errs = append(errs, errors.New("server.log_file rotation limits must not be negative"))
	}
	if lf.Path == "" && (lf.MaxSizeMB != 0 || lf.MaxBackups != 0 || lf.MaxAgeDays != 0 || lf.Compress) {
		slog.Warn("server.log_file rotation settings have no effect without server.log_file.path")
	}

	// Catalog
	if cfg.Catalog.Source != "" && !cfg.Catalog.Source.IsValid() {
		errs = append(errs, fmt.Errorf("catalog.source %q is invalid; valid values: embedded, file, national-rail", cfg.Catalog.Source))
	}
	if cfg.Catalog.Source == CatalogFile && cfg.Catalog.Path == "" {
		errs = append(errs, errors.New("catalog.path is required when catalog.source is file"))
	}
	if cfg.Catalog.Source != CatalogFile && cfg.Catalog.Path != "" {
		slog.Warn("catalog.path is ignored unless catalog.source is file", "source", cfg.Catalog.Source)
	}

	// Upstream clients
	if cfg.Darwin.Timeout < 0 {
		errs = append(errs, fmt.Errorf("darwin.timeout %s must not be negative", cfg.Darwin.Timeout))
	}
	if cfg.TransportAPI.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transportapi.timeout %s must not be negative", cfg.TransportAPI.Timeout))
	}
	if cfg.TransportAPI.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("transportapi.cache_ttl %s must not be negative", cfg.TransportAPI.CacheTTL))
	}

	// Rail
	if cfg.Rail.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Rail.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("rail.timezone %q: %w", cfg.Rail.Timezone, err))
		}
	}
	errs = append(errs, validateRateLimit("rail.live", cfg.Rail.Live)...)
	errs = append(errs, validateRateLimit("rail.timetable", cfg.Rail.Timetable)...)
	if b := cfg.Rail.Breaker; b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("rail.breaker values must not be negative"))
	}

	// Store
	switch cfg.Store.Backend {
	case "", StoreMemory:
	case StorePostgres:
		if cfg.Store.Postgres.DSN == "" {
			slog.Warn("store.postgres.dsn is empty; it must be supplied via " + EnvPostgresDSN)
		}
	case StoreRedis:
		if cfg.Store.Redis.Addr == "" {
			slog.Warn("store.redis.addr is empty; it must be supplied via " + EnvRedisAddr)
		}
		if cfg.Store.Redis.DB < 0 {
			errs = append(errs, fmt.Errorf("store.redis.db %d must not be negative", cfg.Store.Redis.DB))
		}
	case StoreDynamoDB:
		if cfg.Store.DynamoDB.Region == "" {
			slog.Warn("store.dynamodb.region is empty; the AWS default region chain will be used")
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, redis, dynamodb", cfg.Store.Backend))
	}

	return errors.Join(errs...)
}

func validateRateLimit(prefix string, rl RateLimitConfig) []error {
	var errs []error
	if rl.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("%s.requests_per_second %g must not be negative", prefix, rl.RequestsPerSecond))
	}
	if rl.Burst < 0 {
		errs = append(errs, fmt.Errorf("%s.burst %d must not be negative", prefix, rl.Burst))
	}
	if rl.RequestsPerSecond > 0 && rl.Burst == 0 {
		slog.Warn(prefix+".burst is zero; defaulting to 1", "requests_per_second", rl.RequestsPerSecond)
	}
	return errs
}

// ApplyEnv overlays secrets and connection settings from the environment onto
// cfg. lookup is usually [os.LookupEnv]; variables that are unset or empty
// leave the file value in place.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Skill.ApplicationID, EnvSkillID)
	set(&cfg.Darwin.Token, EnvDarwinToken)
	set(&cfg.TransportAPI.AppID, EnvTransportAPIID)
	set(&cfg.TransportAPI.AppKey, EnvTransportAPIKey)
	set(&cfg.Store.Postgres.DSN, EnvPostgresDSN)
	set(&cfg.Store.Redis.Addr, EnvRedisAddr)
	set(&cfg.Store.Redis.Password, EnvRedisPassword)
	set(&cfg.Store.DynamoDB.Table, EnvDynamoDBTable)
	set(&cfg.Store.DynamoDB.Endpoint, EnvDynamoDBEndpoint)

	if v, ok := lookup(EnvRedisDB); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return fmt.Errorf("config: %s %q is not a valid database number", EnvRedisDB, v)
		}
		cfg.Store.Redis.DB = db
	}
	return nil
}
