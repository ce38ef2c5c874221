package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text, json
	Output     string `mapstructure:"output"` // stdout, file
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type TelegramConfig struct {
	PollTimeout   int    `mapstructure:"poll_timeout"`
	Debug         bool   `mapstructure:"debug"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type AutoReplyConfig struct {
	// CooldownFallthrough lets a lower-priority rule fire when the top match is cooling down.
	CooldownFallthrough bool          `mapstructure:"cooldown_fallthrough"`
	RuleCacheTTL        time.Duration `mapstructure:"rule_cache_ttl"`
	DispatchEnabled     bool          `mapstructure:"dispatch_enabled"`
}

type BroadcastConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type StorageConfig struct {
	Dir           string `mapstructure:"dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	MaxUploadMB   int    `mapstructure:"max_upload_mb"`
}

type Config struct {
	Environment    string `mapstructure:"environment"`
	ServerPort     string `mapstructure:"server_port"`
	DBDriver       string `mapstructure:"db_driver"` // postgres, sqlite
	DBHost         string `mapstructure:"db_host"`
	DBPort         string `mapstructure:"db_port"`
	DBUser         string `mapstructure:"db_user"`
	DBPassword     string `mapstructure:"db_password"`
	DBName         string `mapstructure:"db_name"`
	DBSSLMode      string `mapstructure:"db_ssl_mode"`
	DBPath         string `mapstructure:"db_path"`
	DBMaxIdleConns int    `mapstructure:"db_max_idle_conns"`
	DBMaxOpenConns int    `mapstructure:"db_max_open_conns"`

	JWTSecret          string        `mapstructure:"jwt_secret"`
	JWTTTL             time.Duration `mapstructure:"jwt_ttl"`
	EncryptionKey      string        `mapstructure:"encryption_key"`
	SentryDSN          string        `mapstructure:"sentry_dsn"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	CORSOrigins        string        `mapstructure:"cors_origins"`
	DefaultLanguage    string        `mapstructure:"default_language"`

	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	AutoReply AutoReplyConfig `mapstructure:"auto_reply"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server_port", "5000")
	v.SetDefault("db_driver", "postgres")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "atendigram")
	v.SetDefault("db_ssl_mode", "disable")
	v.SetDefault("db_path", "atendigram.db")
	v.SetDefault("db_max_idle_conns", 10)
	v.SetDefault("db_max_open_conns", 100)

	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_ttl", 24*time.Hour)
	v.SetDefault("encryption_key", "")
	v.SetDefault("sentry_dsn", "")
	v.SetDefault("rate_limit_per_minute", 120)
	v.SetDefault("cors_origins", "http://localhost:5173")
	v.SetDefault("default_language", "pt-BR")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "logs/atendigram.log")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("telegram.poll_timeout", 30)
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.webhook_secret", "")

	v.SetDefault("auto_reply.cooldown_fallthrough", false)
	v.SetDefault("auto_reply.rule_cache_ttl", 30*time.Second)
	v.SetDefault("auto_reply.dispatch_enabled", true)

	v.SetDefault("broadcast.messages_per_second", 20.0)
	v.SetDefault("broadcast.burst", 1)

	v.SetDefault("storage.dir", "uploads")
	v.SetDefault("storage.public_base_url", "http://localhost:5000/media")
	v.SetDefault("storage.max_upload_mb", 20)
}

// Load resolves the configuration from defaults, an optional config file and the
// environment. Nested keys map to env vars with dots replaced by underscores
// (auto_reply.cooldown_fallthrough -> AUTO_REPLY_COOLDOWN_FALLTHROUGH).
func Load(v *viper.Viper, path string) (Config, error) {
	var cfg Config

	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch len(c.EncryptionKey) {
	case 16, 24, 32:
	case 0:
		errs = append(errs, errors.New("ENCRYPTION_KEY is required"))
	default:
		errs = append(errs, errors.New("ENCRYPTION_KEY must be 16, 24 or 32 bytes"))
	}
	switch c.DBDriver {
	case "postgres":
		if c.DBPassword == "" && c.Environment == "production" {
			errs = append(errs, errors.New("DB_PASSWORD is required in production"))
		}
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	if c.Broadcast.MessagesPerSecond <= 0 {
		errs = append(errs, errors.New("BROADCAST_MESSAGES_PER_SECOND must be positive"))
	}
	return errors.Join(errs...)
}

// LoadConfig fills AppConfig.
func LoadConfig(path string) error {
	cfg, err := Load(viper.New(), path)
	if err != nil {
		return err
	}
	AppConfig = cfg
	logConfig()
	return nil
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":          AppConfig.Environment,
		"server_port":          AppConfig.ServerPort,
		"db_driver":            AppConfig.DBDriver,
		"database":             databaseLabel(AppConfig),
		"redis":                AppConfig.Redis.Enabled,
		"cooldown_fallthrough": AppConfig.AutoReply.CooldownFallthrough,
		"dispatch_enabled":     AppConfig.AutoReply.DispatchEnabled,
	}).Info("🔧 Loaded configuration")
}

func databaseLabel(cfg Config) string {
	if cfg.DBDriver == "sqlite" {
		return cfg.DBPath
	}
	return fmt.Sprintf("%s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
}
