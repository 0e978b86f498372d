package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const devSigningKey = "dev-secret-key-change-in-production"

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	// RequestTimeout bounds every handler; zero disables it.
	RequestTimeout time.Duration
}

// Storage selects the persistence backend. An empty DatabaseURL selects the in-memory store.
type Storage struct {
	DatabaseURL      string
	MaxOpenConns     int
	ConsentTxTimeout time.Duration
}

// RedisConfig configures the signal cache. An empty URL disables caching.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SignalTTL    time.Duration
}

// Kafka configures the attribution publisher. No brokers means attribution
// events are dropped after being logged locally.
type Kafka struct {
	Brokers          []string
	AttributionTopic string
}

// RateLimit sets per-caller request budgets. Buckets live in Redis when it is
// configured and in process memory otherwise.
type RateLimit struct {
	Enabled        bool
	ReadPerWindow  int
	WritePerWindow int
	Window         time.Duration
}

// Config is the full runtime configuration.
type Config struct {
	Env       string
	LogLevel  string
	Server    Server
	Storage   Storage
	Redis     RedisConfig
	Kafka     Kafka
	RateLimit RateLimit
}

// IsProduction reports whether the service runs with production guard rails.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads configuration from ALMA_* environment variables and an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ALMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("addr", ":8080")
	v.SetDefault("request_timeout", "15s")
	v.SetDefault("jwt.signing_key", devSigningKey)
	v.SetDefault("jwt.issuer", "alma-idp")
	v.SetDefault("jwt.audience", "alma")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("consent.tx_timeout", "5s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.read_timeout", "1s")
	v.SetDefault("redis.write_timeout", "1s")
	v.SetDefault("signal_cache.ttl", "10m")
	v.SetDefault("kafka.attribution_topic", "alma.attribution")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.read_per_window", 300)
	v.SetDefault("ratelimit.write_per_window", 60)
	v.SetDefault("ratelimit.window", "1m")

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"request_timeout", "consent.tx_timeout", "redis.dial_timeout",
		"redis.read_timeout", "redis.write_timeout", "signal_cache.ttl",
		"ratelimit.window",
	} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		if d < 0 {
			return Config{}, fmt.Errorf("%s must not be negative", key)
		}
		durations[key] = d
	}

	cfg := Config{
		Env:      v.GetString("env"),
		LogLevel: v.GetString("log.level"),
		Server: Server{
			Addr:           v.GetString("addr"),
			JWTSigningKey:  v.GetString("jwt.signing_key"),
			JWTIssuer:      v.GetString("jwt.issuer"),
			JWTAudience:    v.GetString("jwt.audience"),
			RequestTimeout: durations["request_timeout"],
		},
		Storage: Storage{
			DatabaseURL:      v.GetString("database.url"),
			MaxOpenConns:     v.GetInt("database.max_open_conns"),
			ConsentTxTimeout: durations["consent.tx_timeout"],
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  durations["redis.dial_timeout"],
			ReadTimeout:  durations["redis.read_timeout"],
			WriteTimeout: durations["redis.write_timeout"],
			SignalTTL:    durations["signal_cache.ttl"],
		},
		Kafka: Kafka{
			Brokers:          splitList(v.GetString("kafka.brokers")),
			AttributionTopic: v.GetString("kafka.attribution_topic"),
		},
		RateLimit: RateLimit{
			Enabled:        v.GetBool("ratelimit.enabled"),
			ReadPerWindow:  v.GetInt("ratelimit.read_per_window"),
			WritePerWindow: v.GetInt("ratelimit.write_per_window"),
			Window:         durations["ratelimit.window"],
		},
	}

	if cfg.IsProduction() && cfg.Server.JWTSigningKey == devSigningKey {
		return Config{}, fmt.Errorf("ALMA_JWT_SIGNING_KEY must be set in production")
	}
	if cfg.Storage.MaxOpenConns <= 0 {
		cfg.Storage.MaxOpenConns = 10
	}
	if cfg.RateLimit.Enabled && (cfg.RateLimit.Window <= 0 || cfg.RateLimit.ReadPerWindow <= 0 || cfg.RateLimit.WritePerWindow <= 0) {
		return Config{}, fmt.Errorf("rate limits and window must be positive when rate limiting is enabled")
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
