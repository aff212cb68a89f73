package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	QueryTimeout      time.Duration
	AutoMigrate       bool
}

type RedisConfig struct {
	URL      string
	Timeout  time.Duration
	PoolSize int
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	TrustedProxies  []string
	// Per-IP requests per minute on the credential endpoints.
	AuthRateLimit int
}

type AuthConfig struct {
	AccessTokenSecret    string
	RefreshTokenSecret   string
	AccessTokenExpiry    time.Duration
	RefreshTokenExpiry   time.Duration
	Issuer               string
	BcryptCost           int
	LockoutThreshold     int
	LockoutWindow        time.Duration
	LockoutDuration      time.Duration
	LockoutScope         string // "email" or "email_ip"
	TOTPEncryptionKey    []byte
	TOTPIssuer           string
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
	SessionRetention     time.Duration
	CleanupInterval      time.Duration
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
}

type EmailConfig struct {
	Provider    string // "ses" or "log"
	AWSRegion   string
	FromAddress string
	AppBaseURL  string // links in emails point here
}

// Load reads configuration with the precedence environment > CONFIG_FILE > defaults.
// A .env file in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	env := src.get("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              src.get("DB_HOST", "localhost"),
			Port:              src.getInt("DB_PORT", 5432),
			User:              src.get("DB_USER", "postgres"),
			Password:          src.get("DB_PASSWORD", ""),
			Name:              src.get("DB_NAME", "warden"),
			SSLMode:           src.get("DB_SSLMODE", "disable"),
			MaxConns:          int32(src.getInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(src.getInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   src.getDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   src.getDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: src.getDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			QueryTimeout:      src.getDuration("DB_QUERY_TIMEOUT", 2*time.Second),
			AutoMigrate:       src.getBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:      src.get("REDIS_URL", "redis://localhost:6379/0"),
			Timeout:  src.getDuration("REDIS_TIMEOUT", 500*time.Millisecond),
			PoolSize: src.getInt("REDIS_POOL_SIZE", 20),
		},
		Server: ServerConfig{
			Port:            src.get("PORT", "8080"),
			Env:             env,
			LogLevel:        src.get("LOG_LEVEL", "info"),
			ReadTimeout:     src.getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    src.getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     src.getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout:  src.getDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: src.getDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			TrustedProxies:  src.getList("TRUSTED_PROXIES"),
			AuthRateLimit:   src.getInt("AUTH_RATE_LIMIT_PER_MINUTE", 10),
		},
		Auth: AuthConfig{
			AccessTokenSecret:    src.get("JWT_ACCESS_SECRET", ""),
			RefreshTokenSecret:   src.get("JWT_REFRESH_SECRET", ""),
			AccessTokenExpiry:    src.getDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:   src.getDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			Issuer:               src.get("JWT_ISSUER", "warden"),
			BcryptCost:           src.getInt("BCRYPT_COST", 12),
			LockoutThreshold:     src.getInt("LOCKOUT_THRESHOLD", 5),
			LockoutWindow:        src.getDuration("LOCKOUT_WINDOW", 5*time.Minute),
			LockoutDuration:      src.getDuration("LOCKOUT_DURATION", 15*time.Minute),
			LockoutScope:         src.get("LOCKOUT_SCOPE", "email"),
			TOTPIssuer:           src.get("TOTP_ISSUER", "Warden"),
			PasswordResetTTL:     src.getDuration("PASSWORD_RESET_TTL", 1*time.Hour),
			EmailVerificationTTL: src.getDuration("EMAIL_VERIFICATION_TTL", 24*time.Hour),
			SessionRetention:     src.getDuration("SESSION_RETENTION", 30*24*time.Hour),
			CleanupInterval:      src.getDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:    src.getInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs:  src.getInt("TIMING_DELAY_RANDOM_MS", 50),
		},
		Email: EmailConfig{
			Provider:    src.get("EMAIL_PROVIDER", "log"),
			AWSRegion:   src.get("AWS_REGION", "us-east-1"),
			FromAddress: src.get("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
			AppBaseURL:  strings.TrimRight(src.get("APP_BASE_URL", "http://localhost:3000"), "/"),
		},
	}

	key, err := parseEncryptionKey(src.get("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}
	cfg.Auth.TOTPEncryptionKey = key

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints and secret strength.
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if err := validateJWTSecret("JWT_ACCESS_SECRET", c.Auth.AccessTokenSecret, c.Server.Env); err != nil {
		return err
	}
	if err := validateJWTSecret("JWT_REFRESH_SECRET", c.Auth.RefreshTokenSecret, c.Server.Env); err != nil {
		return err
	}
	if c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.Auth.AccessTokenExpiry <= 0 || c.Auth.RefreshTokenExpiry <= c.Auth.AccessTokenExpiry {
		return fmt.Errorf("REFRESH_TOKEN_EXPIRY must be longer than ACCESS_TOKEN_EXPIRY")
	}
	if c.Auth.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}
	if c.Auth.LockoutScope != "email" && c.Auth.LockoutScope != "email_ip" {
		return fmt.Errorf("LOCKOUT_SCOPE must be \"email\" or \"email_ip\"")
	}
	if c.Server.AuthRateLimit < 1 {
		return fmt.Errorf("AUTH_RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if c.Email.Provider != "ses" && c.Email.Provider != "log" {
		return fmt.Errorf("EMAIL_PROVIDER must be \"ses\" or \"log\"")
	}
	if c.Email.Provider == "log" && c.Server.Env == "production" {
		return fmt.Errorf("EMAIL_PROVIDER=log is not allowed in production")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for a signing secret
func validateJWTSecret(name, secret, env string) error {
	if secret == "" {
		return fmt.Errorf("%s is required", name)
	}

	minLength := 16
	if env == "production" {
		minLength = 32
	}
	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}
	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Repeat(weak, len(secretLower)/len(weak)) == secretLower {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

// parseEncryptionKey decodes the hex TOTP key. It must be 32 bytes (AES-256).
func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// source resolves a key from the environment, then the optional YAML file.
type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	s := &source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	for key, val := range raw {
		switch v := val.(type) {
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			s.file[strings.ToUpper(key)] = strings.Join(parts, ",")
		case nil:
		default:
			s.file[strings.ToUpper(key)] = fmt.Sprint(v)
		}
	}
	return s, nil
}

func (s *source) get(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value, ok := s.file[key]; ok && value != "" {
		return value
	}
	return defaultVal
}

func (s *source) getInt(key string, defaultVal int) int {
	if intVal, err := strconv.Atoi(s.get(key, "")); err == nil {
		return intVal
	}
	return defaultVal
}

func (s *source) getBool(key string, defaultVal bool) bool {
	if boolVal, err := strconv.ParseBool(s.get(key, "")); err == nil {
		return boolVal
	}
	return defaultVal
}

func (s *source) getDuration(key string, defaultVal time.Duration) time.Duration {
	if duration, err := time.ParseDuration(s.get(key, "")); err == nil {
		return duration
	}
	return defaultVal
}

func (s *source) getList(key string) []string {
	value := s.get(key, "")
	if value == "" {
		return nil
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
