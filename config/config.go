// Package config loads server configuration from UPPERECHO_* environment
// variables and command-line flags. Flags override the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/cyberinferno/upperecho/cacher"
	"github.com/cyberinferno/upperecho/logger"
)

// MaxBufferSize bounds BufferSize; the server allocates that much per
// connection.
const MaxBufferSize = 64 * 1024

// Config holds server configuration.
type Config struct {
	Host            string        `env:"UPPERECHO_HOST"`
	Port            int           `env:"UPPERECHO_PORT"             envDefault:"12000"`
	BufferSize      int           `env:"UPPERECHO_BUFFER_SIZE"      envDefault:"1024"`
	ExchangeTimeout time.Duration `env:"UPPERECHO_EXCHANGE_TIMEOUT" envDefault:"0s"`
	LogLevel        string        `env:"UPPERECHO_LOG_LEVEL"        envDefault:"info"`
	LogDir          string        `env:"UPPERECHO_LOG_DIR"`
	Cache           string        `env:"UPPERECHO_CACHE"            envDefault:"none"`
	CacheTTL        time.Duration `env:"UPPERECHO_CACHE_TTL"        envDefault:"10m"`
	CacheFlush      bool          `env:"UPPERECHO_CACHE_FLUSH"`
	RedisAddr       string        `env:"UPPERECHO_REDIS_ADDR"       envDefault:"localhost:6379"`
}

// Parse reads the environment, then applies flags from args on fs, then
// validates the result.
//
// Parameters:
//   - fs: Flag set to register flags on (flag.CommandLine in main)
//   - args: Arguments without the program name
//
// Returns:
//   - The configuration, or an error if parsing or validation fails
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Host, "host", cfg.Host, "interface to listen on (empty for all)")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on (0 picks a free port)")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "largest chunk read from a client")
	fs.DurationVar(&cfg.ExchangeTimeout, "exchange-timeout", cfg.ExchangeTimeout, "deadline for one exchange (0 for none)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for daily log files (empty for stdout only)")
	fs.StringVar(&cfg.Cache, "cache", cfg.Cache, "response cache: none, memory or redis")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "lifetime of cached responses")
	fs.BoolVar(&cfg.CacheFlush, "cache-flush", cfg.CacheFlush, "drop every cached response at startup")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for -cache=redis")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 0-65535", c.Port))
	}
	if c.BufferSize <= 0 || c.BufferSize > MaxBufferSize {
		errs = append(errs, fmt.Errorf("buffer size %d out of range 1-%d", c.BufferSize, MaxBufferSize))
	}
	if c.ExchangeTimeout < 0 {
		errs = append(errs, fmt.Errorf("exchange timeout must not be negative, got %s", c.ExchangeTimeout))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	switch c.Cache {
	case cacher.BackendNone, cacher.BackendMemory:
	case cacher.BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address required for redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return nil
}

// ListenAddr returns the host:port the server binds.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CacheOptions maps the cache settings onto cacher.Options.
func (c Config) CacheOptions() cacher.Options {
	return cacher.Options{
		Backend:   c.Cache,
		TTL:       c.CacheTTL,
		RedisAddr: c.RedisAddr,
		KeyPrefix: "upperecho:",
	}
}
