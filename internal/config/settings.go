package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dugong-app/dugong/internal/model"
)

// ErrMissingSecret is returned by LoadSettings when no secret key is configured.
var ErrMissingSecret = errors.New("SECRET_KEY must be set")

// Settings is the effective runtime configuration, assembled from defaults,
// an optional dugong.yaml and the environment.
type Settings struct {
	SecretKey  string `yaml:"secret_key" mapstructure:"secret_key"`
	HashScheme string `yaml:"hash_scheme" mapstructure:"hash_scheme"`

	// Nil means the tier is unlimited.
	UsersRateLimit        *int64  `yaml:"users_rate_limit" mapstructure:"-"`
	GuestsRateLimit       *int64  `yaml:"guests_rate_limit" mapstructure:"-"`
	RateLimitRefreshHours float64 `yaml:"rate_limit_refresh_hours" mapstructure:"rate_limit_refresh_hours"`

	LoginAttemptsPerMinute int `yaml:"login_attempts_per_minute" mapstructure:"login_attempts_per_minute"`

	Database DatabaseSettings `yaml:"database" mapstructure:"database"`
	Redis    RedisSettings    `yaml:"redis" mapstructure:"redis"`
	Server   ServerSettings   `yaml:"server" mapstructure:"server"`
	Logging  LoggingSettings  `yaml:"logging" mapstructure:"logging"`
}

// DatabaseSettings selects the store backend.
type DatabaseSettings struct {
	Driver  string `yaml:"driver" mapstructure:"driver"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// Pool returns the connection pool settings as a model.PoolConfig.
func (d DatabaseSettings) Pool() model.PoolConfig {
	return model.PoolConfig{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// RedisSettings enables the shared rate-limit counter when URL is set.
type RedisSettings struct {
	URL    string `yaml:"url" mapstructure:"url"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// ServerSettings controls the HTTP server.
type ServerSettings struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LoggingSettings controls log output.
type LoggingSettings struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultSettings returns Settings pre-filled with sensible defaults. The
// secret key is left empty and must be provided.
func DefaultSettings() *Settings {
	pool := model.DefaultPoolConfig()
	return &Settings{
		HashScheme:             "sha3",
		RateLimitRefreshHours:  0,
		LoginAttemptsPerMinute: 10,
		Database: DatabaseSettings{
			Driver:          "sqlite",
			MaxOpenConns:    pool.MaxOpenConns,
			MaxIdleConns:    pool.MaxIdleConns,
			ConnMaxLifetime: pool.ConnMaxLifetime,
			ConnMaxIdleTime: pool.ConnMaxIdleTime,
		},
		Redis: RedisSettings{
			Prefix: "dugong:ratelimit:",
		},
		Server: ServerSettings{
			Host:            "0.0.0.0",
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// bareEnv lists keys that are also read from their unprefixed environment
// variable names.
var bareEnv = map[string]string{
	"secret_key":               "SECRET_KEY",
	"users_rate_limit":         "USERS_RATE_LIMIT",
	"guests_rate_limit":        "GUESTS_RATE_LIMIT",
	"rate_limit_refresh_hours": "RATE_LIMIT_REFRESH_HOURS",
}

// BindEnv registers defaults and environment bindings on v. Every key is
// available as DUGONG_<KEY> (dots become underscores).
func BindEnv(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("hash_scheme", d.HashScheme)
	v.SetDefault("rate_limit_refresh_hours", d.RateLimitRefreshHours)
	v.SetDefault("login_attempts_per_minute", d.LoginAttemptsPerMinute)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetEnvPrefix("DUGONG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range bareEnv {
		// Prefixed name wins over the bare one.
		_ = v.BindEnv(key, "DUGONG_"+env, env)
	}
	for _, key := range []string{"database.dsn", "database.data_dir", "redis.url"} {
		_ = v.BindEnv(key)
	}
}

// LoadSettings decodes and validates the settings held by v.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	s, err := DecodeSettings(v)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeSettings decodes the settings held by v without validating them.
func DecodeSettings(v *viper.Viper) (*Settings, error) {
	s := DefaultSettings()
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	var err error
	if s.UsersRateLimit, err = optionalLimit(v, "users_rate_limit"); err != nil {
		return nil, err
	}
	if s.GuestsRateLimit, err = optionalLimit(v, "guests_rate_limit"); err != nil {
		return nil, err
	}
	return s, nil
}

// optionalLimit reads a nullable non-negative integer. Empty, "none" and
// "null" mean unset.
func optionalLimit(v *viper.Viper, key string) (*int64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	switch strings.ToLower(raw) {
	case "", "none", "null":
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: must not be negative, got %d", key, n)
	}
	return &n, nil
}

// Validate checks the settings for values the service cannot start with.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.SecretKey) == "" {
		return ErrMissingSecret
	}
	if s.RateLimitRefreshHours < 0 {
		return fmt.Errorf("rate_limit_refresh_hours: must not be negative, got %v", s.RateLimitRefreshHours)
	}
	if _, err := lookupDialect(s.Database.Driver); err != nil {
		return err
	}
	if s.Database.Driver != "" && !strings.HasPrefix(strings.ToLower(s.Database.Driver), "sqlite") && s.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", s.Database.Driver)
	}
	if s.LoginAttemptsPerMinute < 0 {
		return fmt.Errorf("login_attempts_per_minute: must not be negative, got %d", s.LoginAttemptsPerMinute)
	}
	return nil
}

// RefreshPeriod returns the rate-limit window length. Zero disables flushing.
func (s *Settings) RefreshPeriod() time.Duration {
	return time.Duration(s.RateLimitRefreshHours * float64(time.Hour))
}

// Masked returns a copy safe to print: the secret key is elided and the DSN
// password removed.
func (s *Settings) Masked() Settings {
	c := *s
	if c.SecretKey != "" {
		c.SecretKey = "****"
	}
	c.Database.DSN = maskDSN(c.Database.DSN)
	c.Redis.URL = maskDSN(c.Redis.URL)
	return c
}

// maskDSN hides the password of URL-style and MySQL-style DSNs.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	userinfo := dsn[:at]
	start := strings.Index(userinfo, "://")
	if start >= 0 {
		start += 3
	} else {
		start = 0
	}
	colon := strings.Index(userinfo[start:], ":")
	if colon < 0 {
		return dsn
	}
	return userinfo[:start+colon+1] + "****" + dsn[at:]
}
