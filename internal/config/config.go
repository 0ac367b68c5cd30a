// Package config loads process settings from the environment. Every key is
// read with the FAIRWAY_ prefix; a .env file in the working directory is
// applied first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dukerupert/fairway/internal/backup"
)

const prefix = "FAIRWAY_"

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	DBPath    string `env:"DB_PATH" envDefault:"fairway.db"`
	BaseURL   string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	JWTSecret  string        `env:"JWT_SECRET,required,notEmpty"`
	AccessTTL  time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"720h"`

	PostmarkToken string `env:"POSTMARK_TOKEN"`
	FromEmail     string `env:"FROM_EMAIL" envDefault:"no-reply@fairway.local"`
	SMTPHost      string `env:"SMTP_HOST"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser      string `env:"SMTP_USER"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`

	FlowsFile            string   `env:"FLOWS_FILE"`
	AllowedRedirectHosts []string `env:"ALLOWED_REDIRECT_HOSTS" envSeparator:","`
	AdminEmails          []string `env:"ADMIN_EMAILS" envSeparator:","`

	AttemptWindow time.Duration `env:"ATTEMPT_WINDOW" envDefault:"5m"`
	WitnessTTL    time.Duration `env:"WITNESS_TTL" envDefault:"48h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`

	IssueMaxAttempts int           `env:"ISSUE_MAX_ATTEMPTS" envDefault:"5"`
	IssueWindow      time.Duration `env:"ISSUE_WINDOW" envDefault:"15m"`
	ResendCooldown   time.Duration `env:"RESEND_COOLDOWN" envDefault:"60s"`

	BackupBucket     string        `env:"BACKUP_S3_BUCKET"`
	BackupEndpoint   string        `env:"BACKUP_S3_ENDPOINT"`
	BackupRegion     string        `env:"BACKUP_S3_REGION" envDefault:"us-east-1"`
	BackupAccessKey  string        `env:"BACKUP_S3_ACCESS_KEY"`
	BackupSecretKey  string        `env:"BACKUP_S3_SECRET_KEY"`
	BackupPrefix     string        `env:"BACKUP_PREFIX"`
	BackupPassphrase string        `env:"BACKUP_PASSPHRASE"`
	BackupInterval   time.Duration `env:"BACKUP_INTERVAL" envDefault:"24h"`
	BackupRetention  time.Duration `env:"BACKUP_RETENTION" envDefault:"720h"`
}

// Load reads .env (if any) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{Prefix: prefix})
}

// FromMap parses settings from vars instead of the process environment.
// Keys carry the FAIRWAY_ prefix.
func FromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: prefix, Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("%sJWT_SECRET must be at least 32 characters", prefix)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%sBASE_URL must be an absolute http(s) URL", prefix)
	}
	for name, d := range map[string]time.Duration{
		"ACCESS_TTL":      c.AccessTTL,
		"REFRESH_TTL":     c.RefreshTTL,
		"ATTEMPT_WINDOW":  c.AttemptWindow,
		"WITNESS_TTL":     c.WitnessTTL,
		"SWEEP_INTERVAL":  c.SweepInterval,
		"ISSUE_WINDOW":    c.IssueWindow,
		"RESEND_COOLDOWN": c.ResendCooldown,
		"BACKUP_INTERVAL": c.BackupInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s%s must be positive", prefix, name)
		}
	}
	if c.IssueMaxAttempts < 1 {
		return fmt.Errorf("%sISSUE_MAX_ATTEMPTS must be at least 1", prefix)
	}
	if c.BackupBucket != "" && c.BackupPassphrase == "" {
		return fmt.Errorf("%sBACKUP_PASSPHRASE is required when %sBACKUP_S3_BUCKET is set", prefix, prefix)
	}
	return nil
}

// Backup returns the snapshot settings. Snapshots are off unless
// Backup().Enabled() reports true.
func (c *Config) Backup() backup.Config {
	return backup.Config{
		Endpoint:   c.BackupEndpoint,
		Bucket:     c.BackupBucket,
		Region:     c.BackupRegion,
		AccessKey:  c.BackupAccessKey,
		SecretKey:  c.BackupSecretKey,
		Prefix:     c.BackupPrefix,
		Passphrase: c.BackupPassphrase,
		Retention:  c.BackupRetention,
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// WebSocketOrigins lists the hosts allowed to open cross-origin sockets.
func (c *Config) WebSocketOrigins() []string {
	var out []string
	if u, err := url.Parse(c.BaseURL); err == nil && u.Host != "" {
		out = append(out, u.Host)
	}
	return append(out, c.AllowedRedirectHosts...)
}
