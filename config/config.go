/*
config.go - Service configuration

PURPOSE:
  One typed Config assembled from, in increasing precedence:
  defaults < config file (YAML) < .env file < environment variables.

ENVIRONMENT:
  Every key can be set as LEDGER_<SECTION>_<KEY>, e.g.
    LEDGER_SERVER_PORT=9000
    LEDGER_DATABASE_PATH=/var/lib/ledger.db
    LEDGER_LEDGER_DELTA_MODE=independent
    LEDGER_CORS_ALLOWED_ORIGINS=https://a.example,https://b.example

SEE ALSO:
  - cmd/server/main.go: flags override the loaded values
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/warp/commodity-ledger/ledger"
	"github.com/warp/commodity-ledger/logger"
)

const EnvPrefix = "LEDGER"

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type CacheConfig struct {
	CampaignTTL time.Duration `mapstructure:"campaign_ttl"`
}

type CodesConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type LedgerConfig struct {
	DeltaMode string `mapstructure:"delta_mode"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Codes     CodesConfig     `mapstructure:"codes"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("database.path", "ledger.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("ratelimit.rps", 10.0)
	v.SetDefault("ratelimit.burst", 30)
	v.SetDefault("cache.campaign_ttl", 5*time.Minute)
	v.SetDefault("codes.max_attempts", 5)
	v.SetDefault("ledger.delta_mode", ledger.DeltaModeCoupled)
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
}

// Load reads the configuration. With an empty path, config.yaml in the
// working directory is used if present; an explicit path must exist.
// envFiles are loaded with godotenv before reading the environment; with none
// given, ./.env is tried.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	// environment overrides, e.g. LEDGER_SERVER_PORT=9000
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadDotEnv(files []string) error {
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		switch {
		case err == nil:
			logger.L.Debug("env file loaded", "file", f)
		case !explicit && errors.Is(err, fs.ErrNotExist):
			// Optional; rely on the process environment.
		default:
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Validate rejects values the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	if _, err := ledger.DeltaCalculatorFor(c.Ledger.DeltaMode); err != nil {
		return fmt.Errorf("ledger.delta_mode: %w", err)
	}
	if c.Codes.MaxAttempts < 1 {
		return fmt.Errorf("codes.max_attempts must be at least 1, got %d", c.Codes.MaxAttempts)
	}
	if c.Cache.CampaignTTL < 0 {
		return fmt.Errorf("cache.campaign_ttl must not be negative, got %s (0 disables the cache)", c.Cache.CampaignTTL)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must not be negative, got %v", c.RateLimit.RPS)
	}
	return nil
}
