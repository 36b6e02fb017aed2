package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Version     string `envconfig:"VERSION" default:"dev"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	SecretKey   string `envconfig:"SECRET_KEY" required:"true"`
	WorkingDir  string `envconfig:"WORKING_DIR" default:"."`
	Domain      string `envconfig:"DOMAIN" default:"localhost"`

	FakenodoURL       string        `envconfig:"FAKENODO_URL" default:""`
	DepositionTimeout time.Duration `envconfig:"DEPOSITION_TIMEOUT" default:"10s"`

	AdminEmails  string `envconfig:"ADMIN_EMAILS" default:""`
	MailPassword string `envconfig:"MAIL_PASSWORD" default:""`

	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`
	Argon2MemoryKiB uint32        `envconfig:"ARGON2_MEMORY_KIB" default:"65536"`
	CookieSecure    bool          `envconfig:"COOKIE_SECURE" default:"false"`

	RateLimitStore string `envconfig:"RATE_LIMIT_STORE" default:"memory"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	QueueEnabled   bool   `envconfig:"QUEUE_ENABLED" default:"false"`

	RabbitMQURL string `envconfig:"RABBITMQ_URL" default:""`

	StorageProvider   string `envconfig:"STORAGE_PROVIDER" default:"local"`
	S3Bucket          string `envconfig:"S3_BUCKET" default:""`
	S3Endpoint        string `envconfig:"S3_ENDPOINT" default:""`
	S3Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID" default:""`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY" default:""`

	CORSOrigins   string        `envconfig:"CORS_ORIGINS" default:"*"`
	TrustProxy    bool          `envconfig:"TRUSTED_PROXY" default:"false"`
	GeoIPURL      string        `envconfig:"GEOIP_URL" default:""`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`

	LocustAPIKey      string `envconfig:"LOCUST_API_KEY" default:""`
	LocustAPIKeyStats string `envconfig:"LOCUST_API_KEY_STATS" default:""`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AdminEmailList returns the lowercased, trimmed moderation allow-list.
func (c *Config) AdminEmailList() []string {
	return splitList(c.AdminEmails, true)
}

// CORSOriginList returns the allowed CORS origins without trailing slashes.
func (c *Config) CORSOriginList() []string {
	origins := splitList(c.CORSOrigins, false)
	for i, o := range origins {
		origins[i] = strings.TrimRight(o, "/")
	}
	return origins
}

func splitList(raw string, lower bool) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if lower {
			p = strings.ToLower(p)
		}
		out = append(out, p)
	}
	return out
}
