package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSweepInterval    = time.Minute
	DefaultSweepBatchSize   = 200
	DefaultSweepConcurrency = 4
	DefaultSweepItemTimeout = 5 * time.Second
	DefaultBackfillBatch    = 500
	DefaultPaperCacheTTL    = 5 * time.Minute
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Redis     RedisConfig
	OTP       OTPConfig       `mapstructure:"otp"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Paper     PaperConfig     `mapstructure:"paper"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	MigrateOnly bool `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Driver    string // mysql | sqlite
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool   `mapstructure:"parse_time"`
	Path      string // sqlite 文件路径
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Enabled 未配置 host 时不使用 redis，缓存与验证码状态退化为进程内存
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type OTPConfig struct {
	Secret      string        `mapstructure:"secret"`
	TTL         time.Duration `mapstructure:"ttl"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type SweeperConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	ItemTimeout time.Duration `mapstructure:"item_timeout"`
}

type BackfillConfig struct {
	BatchSize     int  `mapstructure:"batch_size"`
	IncludeClosed bool `mapstructure:"include_closed"`
}

type PaperConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parse_time", true)
	v.SetDefault("database.path", "exam.db")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("jwt.issuer", "exam-platform")
	v.SetDefault("jwt.audience", "exam-platform-api")
	v.SetDefault("otp.ttl", 5*time.Minute)
	v.SetDefault("otp.cooldown", time.Minute)
	v.SetDefault("otp.max_attempts", 5)
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", DefaultSweepInterval)
	v.SetDefault("sweeper.batch_size", DefaultSweepBatchSize)
	v.SetDefault("sweeper.concurrency", DefaultSweepConcurrency)
	v.SetDefault("sweeper.item_timeout", DefaultSweepItemTimeout)
	v.SetDefault("backfill.batch_size", DefaultBackfillBatch)
	v.SetDefault("paper.cache_ttl", DefaultPaperCacheTTL)
	v.SetDefault("rate_limit.max_requests", 100000)
	v.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("EXAM")
	v.AutomaticEnv()

	setDefaults(v)

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT / OTP
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("otp.secret", "OTP_SECRET")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// Sweeper
	v.BindEnv("sweeper.enabled", "SWEEPER_ENABLED")
	v.BindEnv("sweeper.interval", "SWEEPER_INTERVAL")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	cfg.normalize()

	// 生产环境校验密钥强度
	if cfg.Server.Mode == "release" {
		if len(cfg.JWT.Secret) < 32 {
			return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
		}
		if len(cfg.OTP.Secret) < 32 {
			return nil, fmt.Errorf("OTP secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.OTP.Secret))
		}
	}

	return &cfg, nil
}

// normalize 非法或缺省的调度参数回落到保守默认值
func (c *Config) normalize() {
	if c.Sweeper.Interval <= 0 {
		c.Sweeper.Interval = DefaultSweepInterval
	}
	if c.Sweeper.BatchSize <= 0 {
		c.Sweeper.BatchSize = DefaultSweepBatchSize
	}
	if c.Sweeper.Concurrency <= 0 {
		c.Sweeper.Concurrency = DefaultSweepConcurrency
	}
	if c.Sweeper.ItemTimeout <= 0 {
		c.Sweeper.ItemTimeout = DefaultSweepItemTimeout
	}
	if c.Backfill.BatchSize <= 0 {
		c.Backfill.BatchSize = DefaultBackfillBatch
	}
	if c.Paper.CacheTTL <= 0 {
		c.Paper.CacheTTL = DefaultPaperCacheTTL
	}
	if c.OTP.MaxAttempts <= 0 {
		c.OTP.MaxAttempts = 5
	}
}
