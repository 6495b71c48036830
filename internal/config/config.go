package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
}

type AppConfig struct {
	Port           string        `yaml:"port"`
	UploadDir      string        `yaml:"upload_dir"`
	AdminEmail     string        `yaml:"admin_email"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// DSN returns a postgres:// URL understood by pgx. Credentials are escaped, so
// passwords may contain spaces, quotes or '@'.
func (c PostgresConfig) DSN() string {
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return dsn.String()
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Enabled reports whether outbound mail is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type RedisConfig struct {
	URL            string        `yaml:"url"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// NewConfig loads .env from the working directory (if present), then the YAML
// file named by CONFIG_FILE (if set), then applies environment overrides.
func NewConfig() (*Config, error) {
	return Load(".env", os.Getenv("CONFIG_FILE"))
}

func Load(envFile, yamlFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := defaults()

	if yamlFile != "" {
		if err := loadYAML(yamlFile, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Port = "5000"
	cfg.App.UploadDir = "uploads"
	cfg.App.LogLevel = "info"
	cfg.App.LogFormat = "console"
	cfg.App.AllowedOrigins = []string{"*"}
	cfg.App.NotifyTimeout = 30 * time.Second

	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Postgres.MigrationsPath = "migrations"

	cfg.SMTP.Port = 587

	cfg.Kafka.Topic = "storefront.orders"

	cfg.Redis.IdempotencyTTL = 24 * time.Hour
	return cfg
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	envString("APP_PORT", &cfg.App.Port)
	envString("UPLOAD_DIR", &cfg.App.UploadDir)
	envString("ADMIN_EMAIL", &cfg.App.AdminEmail)
	envString("LOG_LEVEL", &cfg.App.LogLevel)
	envString("LOG_FORMAT", &cfg.App.LogFormat)
	envList("ALLOWED_ORIGINS", &cfg.App.AllowedOrigins)
	errs = append(errs, envDuration("NOTIFY_TIMEOUT", &cfg.App.NotifyTimeout))

	envString("DB_HOST", &cfg.Postgres.Host)
	envString("DB_PORT", &cfg.Postgres.Port)
	envString("DB_USER", &cfg.Postgres.User)
	envString("DB_PASSWORD", &cfg.Postgres.Password)
	envString("DB_NAME", &cfg.Postgres.DBName)
	envString("DB_SSLMODE", &cfg.Postgres.SSLMode)
	envString("DB_MIGRATIONS_PATH", &cfg.Postgres.MigrationsPath)
	errs = append(errs,
		envInt32("DB_MAX_CONNS", &cfg.Postgres.MaxConns),
		envInt32("DB_MIN_CONNS", &cfg.Postgres.MinConns),
		envDuration("DB_MAX_CONN_LIFETIME", &cfg.Postgres.MaxConnLifetime),
	)

	envString("SMTP_HOST", &cfg.SMTP.Host)
	envString("EMAIL_USER", &cfg.SMTP.Username)
	envString("EMAIL_PASS", &cfg.SMTP.Password)
	envString("EMAIL_FROM", &cfg.SMTP.From)
	errs = append(errs, envInt("SMTP_PORT", &cfg.SMTP.Port))

	envString("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	envString("KAFKA_TOPIC", &cfg.Kafka.Topic)

	envString("REDIS_URL", &cfg.Redis.URL)
	errs = append(errs, envDuration("IDEMPOTENCY_TTL", &cfg.Redis.IdempotencyTTL))

	return errors.Join(errs...)
}

func (c *Config) validate() error {
	var errs []error
	if c.Postgres.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.Postgres.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.Postgres.DBName == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.App.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("NOTIFY_TIMEOUT must be positive"))
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.Username
	}
	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func envList(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func envInt32(key string, dst *int32) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = int32(n)
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}
