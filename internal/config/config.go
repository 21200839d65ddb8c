package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Environment string            `mapstructure:"environment" json:"environment"`
	Server      ServerConfig      `mapstructure:"server" json:"server"`
	Database    DatabaseConfig    `mapstructure:"database" json:"database"`
	Security    SecurityConfig    `mapstructure:"security" json:"security"`
	Google      GoogleConfig      `mapstructure:"google" json:"google"`
	Email       EmailConfig       `mapstructure:"email" json:"email"`
	AWS         AWSConfig         `mapstructure:"aws" json:"aws"`
	Storage     StorageConfig     `mapstructure:"storage" json:"storage"`
	Events      EventsConfig      `mapstructure:"events" json:"events"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency" json:"idempotency"`
	Search      SearchConfig      `mapstructure:"search" json:"search"`
	Cache       CacheConfig       `mapstructure:"cache" json:"cache"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" json:"rate_limit"`
	Logging     LoggingConfig     `mapstructure:"logging" json:"logging"`
	Worker      WorkerConfig      `mapstructure:"worker" json:"worker"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	ClientURL       string        `mapstructure:"client_url" json:"client_url"`
	AllowedOrigin   string        `mapstructure:"allowed_origin" json:"allowed_origin"`
}

// DatabaseConfig represents MongoDB configuration
type DatabaseConfig struct {
	URI            string        `mapstructure:"uri" json:"uri"`
	Name           string        `mapstructure:"name" json:"name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size" json:"max_pool_size"`
	// Transactions requires a replica set; without it purchases run as a
	// compensated saga.
	Transactions bool `mapstructure:"transactions" json:"transactions"`
}

// SecurityConfig holds session and password settings
type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret" json:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
	CookieName     string        `mapstructure:"cookie_name" json:"cookie_name"`
	CookieSecure   bool          `mapstructure:"cookie_secure" json:"cookie_secure"`
	CookieSameSite string        `mapstructure:"cookie_same_site" json:"cookie_same_site"`
	BcryptCost     int           `mapstructure:"bcrypt_cost" json:"bcrypt_cost"`
}

// GoogleConfig holds OAuth client settings; sign-in is disabled when empty
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id" json:"client_id"`
	ClientSecret string `mapstructure:"client_secret" json:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url" json:"callback_url"`
}

// Enabled reports whether Google sign-in is configured.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.CallbackURL != ""
}

// EmailConfig configures outbound contact email
type EmailConfig struct {
	FromAddress string `mapstructure:"from_address" json:"from_address"`
	FromName    string `mapstructure:"from_name" json:"from_name"`
	ContactTo   string `mapstructure:"contact_to" json:"contact_to"`
}

// AWSConfig is shared by every AWS client
type AWSConfig struct {
	Region          string `mapstructure:"region" json:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" json:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint" json:"endpoint"`
}

// StorageConfig configures certificate storage
type StorageConfig struct {
	CertificateBucket string        `mapstructure:"certificate_bucket" json:"certificate_bucket"`
	PresignTTL        time.Duration `mapstructure:"presign_ttl" json:"presign_ttl"`
}

// EventsConfig configures ledger event fan-out
type EventsConfig struct {
	SNSTopicARN string `mapstructure:"sns_topic_arn" json:"sns_topic_arn"`
}

// IdempotencyConfig configures purchase idempotency keys
type IdempotencyConfig struct {
	DynamoTable string        `mapstructure:"dynamo_table" json:"dynamo_table"`
	TTL         time.Duration `mapstructure:"ttl" json:"ttl"`
}

// SearchConfig configures the listing search index
type SearchConfig struct {
	Addresses []string `mapstructure:"addresses" json:"addresses"`
	Username  string   `mapstructure:"username" json:"username"`
	Password  string   `mapstructure:"password" json:"password"`
	Index     string   `mapstructure:"index" json:"index"`
}

// CacheConfig configures read caches for public feeds
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" json:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" json:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl" json:"ttl"`
}

// RateLimitConfig configures per-client limits on auth and contact routes
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" json:"burst"`
}

// LoggingConfig
type LoggingConfig struct {
	Level   string `mapstructure:"level" json:"level"`
	Format  string `mapstructure:"format" json:"format"`
	Service string `mapstructure:"service" json:"service"`
	Version string `mapstructure:"version" json:"version"`
}

// WorkerConfig configures the reconciliation worker
type WorkerConfig struct {
	ReconcileSchedule string        `mapstructure:"reconcile_schedule" json:"reconcile_schedule"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout" json:"batch_timeout"`
}

// legacyEnv maps the environment variable names used by existing deployments
// onto config keys.
var legacyEnv = map[string]string{
	"environment":                "NODE_ENV",
	"server.port":                "PORT",
	"server.client_url":          "CLIENT_URL",
	"database.uri":               "MONGO_URI",
	"security.jwt_secret":        "JWT_SECRET",
	"security.cookie_name":       "SESSION_COOKIE_NAME",
	"google.client_id":           "GOOGLE_CLIENT_ID",
	"google.client_secret":       "GOOGLE_CLIENT_SECRET",
	"google.callback_url":        "GOOGLE_CALLBACK_URL",
	"email.from_address":         "EMAIL_FROM",
	"email.contact_to":           "CONTACT_EMAIL_TO",
	"aws.region":                 "AWS_REGION",
	"storage.certificate_bucket": "CERTIFICATE_BUCKET",
	"events.sns_topic_arn":       "EVENTS_TOPIC_ARN",
	"idempotency.dynamo_table":   "IDEMPOTENCY_TABLE",
	"cache.redis_addr":           "REDIS_ADDR",
	"logging.level":              "LOG_LEVEL",
	"worker.reconcile_schedule":  "RECONCILE_SCHEDULE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.client_url", "http://localhost:5173")
	v.SetDefault("server.allowed_origin", "*")

	v.SetDefault("database.name", "csquare")
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.max_pool_size", 50)

	v.SetDefault("security.token_ttl", 7*24*time.Hour)
	v.SetDefault("security.cookie_name", "csquare_session")
	v.SetDefault("security.bcrypt_cost", 10)

	v.SetDefault("email.from_name", "C-Square")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("storage.presign_ttl", 15*time.Minute)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("search.index", "marketplace-listings")
	v.SetDefault("cache.ttl", 30*time.Second)

	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "csquare-api")
	v.SetDefault("logging.version", "dev")

	v.SetDefault("worker.reconcile_schedule", "0 */15 * * * *")
	v.SetDefault("worker.batch_timeout", 2*time.Minute)
}

// LoadConfig loads configuration from .env, an optional JSON file and
// environment variables, in increasing order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if addrs := os.Getenv("ELASTICSEARCH_URLS"); addrs != "" {
		config.Search.Addresses = strings.Split(addrs, ",")
	}
	if config.IsProduction() && !v.IsSet("security.cookie_secure") {
		config.Security.CookieSecure = true
	}
	if config.Security.CookieSameSite == "" {
		config.Security.CookieSameSite = "lax"
		if config.IsProduction() {
			config.Security.CookieSameSite = "none"
		}
	}

	return config, nil
}

// Validate checks settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URI == "" {
		errs = append(errs, errors.New("MONGO_URI must be set"))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("bcrypt cost %d out of range", c.Security.BcryptCost))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
