package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

type DatabaseConfig struct {
	URL           string `yaml:"url"`
	MigrateOnBoot bool   `yaml:"migrate_on_boot"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether webhook payloads should be archived.
func (m MinioConfig) Enabled() bool {
	return m.Endpoint != ""
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWKSURL   string `yaml:"jwks_url"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

type GatewayConfig struct {
	SecretKey     string        `yaml:"secret_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
}

type JobsConfig struct {
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
	ExpiryBatchSize     int           `yaml:"expiry_batch_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Minio    MinioConfig    `yaml:"minio"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Log      LogConfig      `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Database: DatabaseConfig{MigrateOnBoot: true},
		Redis:    RedisConfig{Addr: "localhost:6379", CacheTTL: 5 * time.Minute},
		Minio:    MinioConfig{Bucket: "estatehub-webhooks", Region: "us-east-1"},
		Gateway:  GatewayConfig{Timeout: 15 * time.Second},
		Jobs:     JobsConfig{ExpirySweepInterval: 10 * time.Minute, ExpiryBatchSize: 500},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env (when present), then the YAML file named by CONFIG_FILE,
// then applies environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Minio.Bucket, "MINIO_BUCKET")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.JWKSURL, "JWKS_URL")
	setString(&c.Auth.Issuer, "JWT_ISSUER")
	setString(&c.Auth.Audience, "JWT_AUDIENCE")
	setString(&c.Gateway.SecretKey, "GATEWAY_SECRET_KEY")
	setString(&c.Gateway.WebhookSecret, "GATEWAY_WEBHOOK_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	var errs []error
	errs = append(errs,
		setInt(&c.Server.Port, "PORT"),
		setInt(&c.Redis.DB, "REDIS_DB"),
		setBool(&c.Minio.UseSSL, "MINIO_USE_SSL"),
		setBool(&c.Database.MigrateOnBoot, "MIGRATE_ON_BOOT"),
		setDuration(&c.Gateway.Timeout, "GATEWAY_TIMEOUT"),
		setDuration(&c.Redis.CacheTTL, "CACHE_TTL"),
		setDuration(&c.Jobs.ExpirySweepInterval, "EXPIRY_SWEEP_INTERVAL"),
	)
	return errors.Join(errs...)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" && c.Auth.JWKSURL == "" {
		problems = append(problems, "one of JWT_SECRET or JWKS_URL is required")
	}
	if c.Gateway.SecretKey == "" {
		problems = append(problems, "GATEWAY_SECRET_KEY is required")
	}
	if c.Gateway.WebhookSecret == "" {
		problems = append(problems, "GATEWAY_WEBHOOK_SECRET is required")
	}
	if c.Gateway.Timeout <= 0 {
		problems = append(problems, "gateway timeout must be positive")
	}
	if c.Jobs.ExpirySweepInterval < time.Minute {
		problems = append(problems, "expiry sweep interval must be at least 1m")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "port is out of range")
	}
	if c.Minio.Enabled() && (c.Minio.AccessKey == "" || c.Minio.SecretKey == "") {
		problems = append(problems, "MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
