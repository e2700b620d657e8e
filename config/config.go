package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreFirestore = "firestore"
	StoreRedis     = "redis"
	StoreMemory    = "memory"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port    int
	GinMode string

	LogLevel  string
	LogFormat string

	Mail     MailConfig
	Firebase FirebaseConfig
	OTP      OTPConfig
	Redis    RedisConfig

	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For; empty means the peer address is the client.
	TrustedProxies []string
}

type MailConfig struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
	Sender   string
	Subject  string
}

type FirebaseConfig struct {
	CredentialsFile string
	ProjectID       string
}

type OTPConfig struct {
	Store      string
	Collection string
	TTL        time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 10000)
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MAIL_SERVER", "smtp.gmail.com")
	v.SetDefault("MAIL_PORT", 587)
	v.SetDefault("MAIL_USE_TLS", true)
	v.SetDefault("MAIL_USERNAME", "")
	v.SetDefault("MAIL_PASSWORD", "")
	v.SetDefault("MAIL_SENDER", "")
	v.SetDefault("MAIL_SUBJECT", "Your OTP for HerbiTect")

	v.SetDefault("GOOGLE_APPLICATION_CREDENTIALS", "")
	v.SetDefault("FIREBASE_PROJECT_ID", "")

	v.SetDefault("OTP_STORE", StoreFirestore)
	v.SetDefault("OTP_COLLECTION", "otps")
	v.SetDefault("OTP_TTL", "10m")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "otp:")

	v.SetDefault("RATE_LIMIT_RPS", 1)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("TRUSTED_PROXIES", "")
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded, using process environment")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:      v.GetInt("PORT"),
		GinMode:   v.GetString("GIN_MODE"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
		Mail: MailConfig{
			Host:     v.GetString("MAIL_SERVER"),
			Port:     v.GetInt("MAIL_PORT"),
			UseTLS:   v.GetBool("MAIL_USE_TLS"),
			Username: v.GetString("MAIL_USERNAME"),
			Password: v.GetString("MAIL_PASSWORD"),
			Sender:   v.GetString("MAIL_SENDER"),
			Subject:  v.GetString("MAIL_SUBJECT"),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
			ProjectID:       v.GetString("FIREBASE_PROJECT_ID"),
		},
		OTP: OTPConfig{
			Store:      strings.ToLower(strings.TrimSpace(v.GetString("OTP_STORE"))),
			Collection: v.GetString("OTP_COLLECTION"),
			TTL:        v.GetDuration("OTP_TTL"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("REDIS_ADDR"),
			Password:  v.GetString("REDIS_PASSWORD"),
			DB:        v.GetInt("REDIS_DB"),
			KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
		},
		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
		AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		TrustedProxies: splitList(v.GetString("TRUSTED_PROXIES")),
	}

	if cfg.Mail.Sender == "" {
		cfg.Mail.Sender = cfg.Mail.Username
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 {
		errs = append(errs, fmt.Errorf("PORT must be positive, got %d", c.Port))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, fmt.Errorf("OTP_TTL must be positive, got %s", c.OTP.TTL))
	}
	switch c.OTP.Store {
	case StoreFirestore, StoreRedis, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("OTP_STORE %q is not one of firestore, redis, memory", c.OTP.Store))
	}
	if c.OTP.Store == StoreFirestore && c.OTP.Collection == "" {
		errs = append(errs, errors.New("OTP_COLLECTION is required for the firestore store"))
	}
	if c.Mail.Host == "" || c.Mail.Port <= 0 {
		errs = append(errs, errors.New("MAIL_SERVER and MAIL_PORT are required"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
