package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Log        LogConfig
	Moderation ModerationConfig
	Provider   ProviderConfig
	Export     ExportConfig
	CORS       CORSConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
	Expiry time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// ModerationConfig tunes the scanning cache and the decision pipeline.
type ModerationConfig struct {
	AutomatonTTL     time.Duration
	CacheWindow      time.Duration
	SummaryLength    int
	AsyncWorkers     int
	AsyncBuffer      int
	HitWorkers       int
	HitBuffer        int
	StatsCacheTTL    time.Duration
	StatsCacheOn     bool
	ProviderCacheTTL time.Duration
}

// ProviderConfig points at the third-party text moderation endpoint.
// An empty URL disables escalation.
type ProviderConfig struct {
	Name    string
	URL     string
	APIKey  string
	Timeout time.Duration
}

// ExportConfig controls rendered record exports and their download links.
type ExportConfig struct {
	Dir       string
	URLTTL    time.Duration
	ResultTTL time.Duration
	MaxRows   int
}

// CORSConfig lists browser origins allowed to call the API. Empty allows any.
type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
		Expiry: parseDuration(v.GetString("JWT_EXPIRY"), time.Hour),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Moderation = ModerationConfig{
		AutomatonTTL:     parseDuration(v.GetString("MODERATION_AUTOMATON_TTL"), 5*time.Minute),
		CacheWindow:      parseDuration(v.GetString("MODERATION_CACHE_WINDOW"), 24*time.Hour),
		SummaryLength:    positiveOr(v.GetInt("MODERATION_SUMMARY_LENGTH"), 100),
		AsyncWorkers:     positiveOr(v.GetInt("MODERATION_ASYNC_WORKERS"), 4),
		AsyncBuffer:      positiveOr(v.GetInt("MODERATION_ASYNC_BUFFER"), 64),
		HitWorkers:       positiveOr(v.GetInt("MODERATION_HIT_WORKERS"), 2),
		HitBuffer:        positiveOr(v.GetInt("MODERATION_HIT_BUFFER"), 1024),
		StatsCacheTTL:    parseDuration(v.GetString("MODERATION_STATS_CACHE_TTL"), time.Minute),
		StatsCacheOn:     v.GetBool("ENABLE_STATS_CACHE"),
		ProviderCacheTTL: parseDuration(v.GetString("MODERATION_PROVIDER_CACHE_TTL"), 24*time.Hour),
	}

	cfg.Provider = ProviderConfig{
		Name:    v.GetString("PROVIDER_NAME"),
		URL:     v.GetString("PROVIDER_URL"),
		APIKey:  v.GetString("PROVIDER_API_KEY"),
		Timeout: parseDuration(v.GetString("PROVIDER_TIMEOUT"), 3*time.Second),
	}

	cfg.Export = ExportConfig{
		Dir:       v.GetString("EXPORT_DIR"),
		URLTTL:    parseDuration(v.GetString("EXPORT_URL_TTL"), time.Hour),
		ResultTTL: parseDuration(v.GetString("EXPORT_RESULT_TTL"), 24*time.Hour),
		MaxRows:   positiveOr(v.GetInt("EXPORT_MAX_ROWS"), 5000),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS"))}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "moderation")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "moderation-engine")
	v.SetDefault("JWT_EXPIRY", "1h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MODERATION_AUTOMATON_TTL", "5m")
	v.SetDefault("MODERATION_CACHE_WINDOW", "24h")
	v.SetDefault("MODERATION_SUMMARY_LENGTH", 100)
	v.SetDefault("MODERATION_ASYNC_WORKERS", 4)
	v.SetDefault("MODERATION_ASYNC_BUFFER", 64)
	v.SetDefault("MODERATION_HIT_WORKERS", 2)
	v.SetDefault("MODERATION_HIT_BUFFER", 1024)
	v.SetDefault("MODERATION_STATS_CACHE_TTL", "1m")
	v.SetDefault("ENABLE_STATS_CACHE", false)
	v.SetDefault("MODERATION_PROVIDER_CACHE_TTL", "24h")

	v.SetDefault("PROVIDER_NAME", "external")
	v.SetDefault("PROVIDER_URL", "")
	v.SetDefault("PROVIDER_API_KEY", "")
	v.SetDefault("PROVIDER_TIMEOUT", "3s")

	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_URL_TTL", "1h")
	v.SetDefault("EXPORT_RESULT_TTL", "24h")
	v.SetDefault("EXPORT_MAX_ROWS", 5000)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
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
