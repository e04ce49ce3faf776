package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	RTC   RTCConfig
	Call  CallConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for managed-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// RTCConfig configures the external RTC provider used for media transport.
// The engine never touches media; it only mints join tokens against these
// credentials.
type RTCConfig struct {
	AppID          string
	AppCertificate string
	TokenTTL       time.Duration
}

// CallConfig tunes the call session engine.
type CallConfig struct {
	// RingTimeout is the missed-call window armed at initiate.
	RingTimeout time.Duration

	// MinStartSeconds is how many seconds of talk time the caller must be
	// able to afford before a call may start.
	MinStartSeconds int

	// PresenceTTL bounds how long a presence entry survives in Redis without
	// being refreshed by a live connection.
	PresenceTTL time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.RTC.AppID = strings.TrimSpace(os.Getenv("RTC_APP_ID"))
	c.RTC.AppCertificate = os.Getenv("RTC_APP_CERTIFICATE")
	c.RTC.TokenTTL = mustDuration("RTC_TOKEN_TTL")

	c.Call.RingTimeout = mustDuration("CALL_RING_TIMEOUT")
	if v := strings.TrimSpace(os.Getenv("CALL_MIN_START_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("CALL_MIN_START_SECONDS must be an integer, got %q", v))
		}
		c.Call.MinStartSeconds = n
	}
	c.Call.PresenceTTL = mustDuration("PRESENCE_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.RTC.AppID == "" {
		errs = append(errs, errors.New("RTC_APP_ID is required"))
	}
	if c.RTC.AppCertificate == "" {
		errs = append(errs, errors.New("RTC_APP_CERTIFICATE is required"))
	}
	if c.RTC.TokenTTL <= 0 {
		c.RTC.TokenTTL = time.Hour
	}

	if c.Call.RingTimeout <= 0 {
		// Unaccepted calls go missed after this window.
		c.Call.RingTimeout = 30 * time.Second
	}
	if c.Call.MinStartSeconds <= 0 {
		c.Call.MinStartSeconds = 10
	}
	if c.Call.PresenceTTL <= 0 {
		c.Call.PresenceTTL = 60 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
