package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（空の場合はインメモリのカートストアを使用する）
	RedisURL string
	CartTTL  time.Duration

	// Auth
	JWTSecret     string
	JWTTTL        time.Duration
	AdminEmail    string
	AdminPassword string

	// SMS
	SMSGatewayURL       string
	SMSDefaultRecipient string
	SMSTimeout          time.Duration

	// Checkout
	CheckoutSettleDelay    time.Duration
	CheckoutDriverDelay    time.Duration
	CheckoutPreparingDelay time.Duration
	// RestaurantNames は店舗IDから表示名への対応。RESTAURANT_NAMES="r1=Spice Hub,r2=Kottu Lab" の形式。
	RestaurantNames map[string]string

	// Notification
	NotificationMaxEntries int
	NotificationMaxAge     time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Worker
	SessionCleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.CartTTL = getEnvDuration("CART_TTL", 30*24*time.Hour)
	cfg.JWTTTL = getEnvDuration("JWT_TTL", 24*time.Hour)
	cfg.AdminEmail = getEnvString("ADMIN_EMAIL", "")
	cfg.AdminPassword = getEnvString("ADMIN_PASSWORD", "")
	cfg.SMSGatewayURL = getEnvString("SMS_GATEWAY_URL", "http://localhost:"+cfg.ServerPort+"/api/send-sms")
	cfg.SMSDefaultRecipient = getEnvString("SMS_DEFAULT_RECIPIENT", "+94751170942")
	cfg.SMSTimeout = getEnvDuration("SMS_TIMEOUT", 10*time.Second)
	cfg.CheckoutSettleDelay = getEnvDuration("CHECKOUT_SETTLE_DELAY", 2*time.Second)
	cfg.CheckoutDriverDelay = getEnvDuration("CHECKOUT_DRIVER_DELAY", 5*time.Second)
	cfg.CheckoutPreparingDelay = getEnvDuration("CHECKOUT_PREPARING_DELAY", 8*time.Second)
	cfg.RestaurantNames = getEnvMap("RESTAURANT_NAMES")
	cfg.NotificationMaxEntries = getEnvInt("NOTIFICATION_MAX_ENTRIES", 50)
	cfg.NotificationMaxAge = getEnvDuration("NOTIFICATION_MAX_AGE", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// loadDotEnv は指定された.envファイルを読み込む。ファイルが無い場合は何もしない。
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
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

// getEnvMap は "key=value,key=value" 形式の環境変数を読み込む。
// 区切りのない要素とキーが空の要素は無視する。
func getEnvMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv(key), ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
