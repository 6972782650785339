package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// セッションストアの種類
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
// CLIENTALIO_CONFIG にYAMLファイルが指定された場合はその内容を読み込み、
// 環境変数で上書きする。
type Config struct {
	// Backend API
	APIBaseURL   string        `yaml:"api_base_url"`
	APITimeout   time.Duration `yaml:"api_timeout"`
	APIRateLimit float64       `yaml:"api_rate_limit"` // req/sec
	UserType     string        `yaml:"user_type"`

	// Client context
	GeoLookupURL    string        `yaml:"geo_lookup_url"`
	GeoTimeout      time.Duration `yaml:"geo_timeout"`
	HomeCountryCode string        `yaml:"home_country_code"`

	// Verification
	OTPCountdown time.Duration `yaml:"otp_countdown"`
	OTPLength    int           `yaml:"otp_length"`

	// Google
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleRedirectURL  string `yaml:"google_redirect_url"`
	GoogleTokenInfoURL string `yaml:"google_tokeninfo_url"`

	// reCAPTCHA
	RecaptchaSiteKey string `yaml:"recaptcha_site_key"`
	RecaptchaToken   string `yaml:"recaptcha_token"`

	// Session storage
	SessionStore     string `yaml:"session_store"`
	SessionFile      string `yaml:"session_file"`
	SessionNamespace string `yaml:"session_namespace"`
	DatabaseURL      string `yaml:"database_url"`
	RedisURL         string `yaml:"redis_url"`

	// Embed server
	ServerPort        string `yaml:"server_port"`
	CORSAllowedOrigin string `yaml:"cors_allowed_origin"`
	RateLimitEmbed    int    `yaml:"rate_limit_embed"` // req/min/IP
	PublicBaseURL     string `yaml:"public_base_url"`
	// EmbedCacheTTL が0の場合は wall をキャッシュせず毎回取得する
	EmbedCacheTTL time.Duration `yaml:"embed_cache_ttl"`

	// Media
	MediaMaxSize int64         `yaml:"media_max_size"`
	MediaTimeout time.Duration `yaml:"media_timeout"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Load は設定を読み込む。
// 指定されたストアに必要な設定が欠けている場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CLIENTALIO_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		APIBaseURL:         "https://apiclientalio.azurewebsites.net/api/v1",
		APITimeout:         30 * time.Second,
		APIRateLimit:       5,
		UserType:           "customer",
		GeoLookupURL:       "https://ipapi.co/json/",
		GeoTimeout:         5 * time.Second,
		HomeCountryCode:    "IN",
		OTPCountdown:       210 * time.Second,
		OTPLength:          4,
		GoogleTokenInfoURL: "https://oauth2.googleapis.com/tokeninfo",
		SessionStore:       StoreFile,
		SessionFile:        defaultSessionFile(),
		SessionNamespace:   "default",
		ServerPort:         "8080",
		CORSAllowedOrigin:  "*",
		RateLimitEmbed:     120,
		PublicBaseURL:      "http://localhost:8080",
		EmbedCacheTTL:      time.Minute,
		MediaMaxSize:       100 * 1024 * 1024,
		MediaTimeout:       60 * time.Second,
		LogLevel:           "info",
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = strings.TrimRight(getEnvString("API_BASE_URL", c.APIBaseURL), "/")
	c.APITimeout = getEnvDuration("API_TIMEOUT", c.APITimeout)
	c.APIRateLimit = getEnvFloat("API_RATE_LIMIT", c.APIRateLimit)
	c.UserType = getEnvString("USER_TYPE", c.UserType)
	c.GeoLookupURL = getEnvString("GEO_LOOKUP_URL", c.GeoLookupURL)
	c.GeoTimeout = getEnvDuration("GEO_TIMEOUT", c.GeoTimeout)
	c.HomeCountryCode = strings.ToUpper(getEnvString("HOME_COUNTRY_CODE", c.HomeCountryCode))
	c.OTPCountdown = getEnvDuration("OTP_COUNTDOWN", c.OTPCountdown)
	c.OTPLength = getEnvInt("OTP_LENGTH", c.OTPLength)
	c.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", c.GoogleClientID)
	c.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", c.GoogleRedirectURL)
	c.GoogleTokenInfoURL = getEnvString("GOOGLE_TOKENINFO_URL", c.GoogleTokenInfoURL)
	c.RecaptchaSiteKey = getEnvString("RECAPTCHA_SITE_KEY", c.RecaptchaSiteKey)
	c.RecaptchaToken = getEnvString("RECAPTCHA_TOKEN", c.RecaptchaToken)
	c.SessionStore = strings.ToLower(getEnvString("SESSION_STORE", c.SessionStore))
	c.SessionFile = getEnvString("SESSION_FILE", c.SessionFile)
	c.SessionNamespace = getEnvString("SESSION_NAMESPACE", c.SessionNamespace)
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnvString("REDIS_URL", c.RedisURL)
	c.ServerPort = getEnvString("SERVER_PORT", c.ServerPort)
	c.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", c.CORSAllowedOrigin)
	c.RateLimitEmbed = getEnvInt("RATE_LIMIT_EMBED", c.RateLimitEmbed)
	c.PublicBaseURL = strings.TrimRight(getEnvString("PUBLIC_BASE_URL", c.PublicBaseURL), "/")
	c.EmbedCacheTTL = getEnvDuration("EMBED_CACHE_TTL", c.EmbedCacheTTL)
	c.MediaMaxSize = getEnvInt64("MEDIA_MAX_SIZE", c.MediaMaxSize)
	c.MediaTimeout = getEnvDuration("MEDIA_TIMEOUT", c.MediaTimeout)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
}

func (c *Config) validate() error {
	var missing []string

	switch c.SessionStore {
	case StoreFile:
		if c.SessionFile == "" {
			missing = append(missing, "SESSION_FILE")
		}
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return fmt.Errorf("unsupported SESSION_STORE: %q (allowed: file, memory, postgres, redis)", c.SessionStore)
	}

	if c.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if c.OTPLength <= 0 {
		return fmt.Errorf("OTP_LENGTH must be positive: %d", c.OTPLength)
	}

	return nil
}

// defaultSessionFile はセッションファイルの既定パスを返す。
func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".clientalio/session.json"
	}
	return filepath.Join(home, ".clientalio", "session.json")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
