package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config keeps runtime settings for the web server, bot and reminders.
type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	DBDriver    string // sqlite or mysql
	DatabaseURL string

	RedisAddr     string
	RedisPassword string

	SessionBackend string // cookie or redis
	SessionTTL     time.Duration
	JWTSecret      string

	LoginRate  float64 // tokens per second per login name, 0 disables throttling
	LoginBurst float64

	TelegramToken  string
	ReminderAt     string // HH:MM, daily
	ReportInterval time.Duration

	SMTP  SMTPConfig
	Admin AdminConfig
}

// SMTPConfig holds outgoing mail settings for reminder e-mails.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Enabled reports whether enough is configured to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.User != "" && c.From != ""
}

// AdminConfig describes an admin account created at startup when absent.
type AdminConfig struct {
	Name     string
	Email    string
	Password string
}

// Enabled reports whether an admin account should be bootstrapped.
func (c AdminConfig) Enabled() bool {
	return c.Name != "" && c.Email != "" && c.Password != ""
}

const (
	SessionCookie = "cookie"
	SessionRedis  = "redis"

	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"

	devJWTSecret = "dev_secret_change_me"
	// MinJWTSecretLen applies outside the local environment.
	MinJWTSecretLen = 32
)

var envKeys = map[string]string{
	"app.env":            "APP_ENV",
	"app.log_level":      "APP_LOG_LEVEL",
	"app.http_addr":      "APP_HTTP_ADDR",
	"db.driver":          "DB_DRIVER",
	"db.url":             "DATABASE_URL",
	"redis.addr":         "REDIS_ADDR",
	"redis.password":     "REDIS_PASSWORD",
	"session.backend":    "SESSION_BACKEND",
	"session.ttl":        "SESSION_TTL",
	"session.jwt_secret": "JWT_SECRET",
	"login.rate":         "LOGIN_RATE",
	"login.burst":        "LOGIN_BURST",
	"telegram.token":     "TELEGRAM_TOKEN",
	"reminder.at":        "REMINDER_AT",
	"reminder.interval":  "REPORT_INTERVAL_HOURS",
	"smtp.host":          "SMTP_HOST",
	"smtp.port":          "SMTP_PORT",
	"smtp.user":          "SMTP_USER",
	"smtp.pass":          "SMTP_PASS",
	"smtp.from":          "SMTP_FROM",
	"admin.name":         "ADMIN_NAME",
	"admin.email":        "ADMIN_EMAIL",
	"admin.password":     "ADMIN_PASSWORD",
}

// Load reads configuration from an optional file (CONFIG_FILE) and then from
// environment variables, which take precedence.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	_ = v.BindEnv("config_file", "CONFIG_FILE")

	if path := strings.TrimSpace(v.GetString("config_file")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Env:            strings.TrimSpace(v.GetString("app.env")),
		LogLevel:       strings.TrimSpace(v.GetString("app.log_level")),
		HTTPAddr:       strings.TrimSpace(v.GetString("app.http_addr")),
		DBDriver:       strings.ToLower(strings.TrimSpace(v.GetString("db.driver"))),
		DatabaseURL:    strings.TrimSpace(v.GetString("db.url")),
		RedisAddr:      strings.TrimSpace(v.GetString("redis.addr")),
		RedisPassword:  v.GetString("redis.password"),
		SessionBackend: strings.ToLower(strings.TrimSpace(v.GetString("session.backend"))),
		SessionTTL:     v.GetDuration("session.ttl"),
		JWTSecret:      v.GetString("session.jwt_secret"),
		LoginRate:      v.GetFloat64("login.rate"),
		LoginBurst:     v.GetFloat64("login.burst"),
		TelegramToken:  strings.TrimSpace(v.GetString("telegram.token")),
		ReminderAt:     strings.TrimSpace(v.GetString("reminder.at")),
		ReportInterval: parseInterval(strings.TrimSpace(v.GetString("reminder.interval"))),
		SMTP: SMTPConfig{
			Host: strings.TrimSpace(v.GetString("smtp.host")),
			Port: v.GetInt("smtp.port"),
			User: strings.TrimSpace(v.GetString("smtp.user")),
			Pass: v.GetString("smtp.pass"),
			From: strings.TrimSpace(v.GetString("smtp.from")),
		},
		Admin: AdminConfig{
			Name:     strings.TrimSpace(v.GetString("admin.name")),
			Email:    strings.TrimSpace(v.GetString("admin.email")),
			Password: v.GetString("admin.password"),
		},
	}

	if cfg.DBDriver == DriverMySQL {
		cfg.DatabaseURL = mysqlDSN(cfg.DatabaseURL, v)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "local")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_addr", ":8080")
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.url", "taskr.db")
	v.SetDefault("session.backend", SessionCookie)
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.jwt_secret", devJWTSecret)
	v.SetDefault("login.rate", 0.2)
	v.SetDefault("login.burst", 5)
	v.SetDefault("reminder.at", "08:00")
	v.SetDefault("smtp.port", 587)
}

// IsLocal reports whether the process runs in the local development environment.
func (c Config) IsLocal() bool {
	return c.Env == "" || c.Env == "local"
}

func (c Config) validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverMySQL:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.SessionBackend {
	case SessionCookie:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required for cookie sessions")
		}
		if !c.IsLocal() && (c.JWTSecret == devJWTSecret || len(c.JWTSecret) < MinJWTSecretLen) {
			return fmt.Errorf("JWT_SECRET must be set to at least %d characters when APP_ENV is %q", MinJWTSecretLen, c.Env)
		}
	case SessionRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for redis sessions")
		}
	default:
		return fmt.Errorf("unsupported SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	return nil
}

func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return 0
	}
	return hours
}

// mysqlDSN lets DB_HOST, DB_PORT, DB_USER, DB_PASSWORD and DB_NAME override
// parts of the configured DSN.
func mysqlDSN(dsn string, v *viper.Viper) string {
	for _, key := range []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME"} {
		_ = v.BindEnv(strings.ToLower(key), key)
	}

	parsed := parseMySQLDSN(dsn)
	host, port := splitAddr(parsed.Addr)
	if h := v.GetString("db_host"); h != "" {
		host = h
	}
	if p := v.GetString("db_port"); p != "" {
		port = p
	}
	parsed.Addr = host + ":" + port
	if u := v.GetString("db_user"); u != "" {
		parsed.User = u
	}
	if p := v.GetString("db_password"); p != "" {
		parsed.Passwd = p
	}
	if n := v.GetString("db_name"); n != "" {
		parsed.DBName = n
	}
	parsed.ParseTime = true
	return parsed.FormatDSN()
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if parsed, err := mysql.ParseDSN(dsn); err == nil && parsed.Addr != "" {
		return parsed
	}
	cfg := mysql.NewConfig()
	cfg.User = "root"
	cfg.Net = "tcp"
	cfg.Addr = "localhost:3306"
	cfg.DBName = "taskr"
	cfg.ParseTime = true
	return cfg
}

func splitAddr(addr string) (string, string) {
	host, port, found := strings.Cut(addr, ":")
	if !found || port == "" {
		return host, "3306"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return host, "3306"
	}
	return host, port
}
