package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL  string        `env:"DATABASE_URL"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	RedisURL     string        `env:"REDIS_URL"`

	// Token
	JWTSecretKey             string `env:"JWT_SECRET_KEY"`
	JWTAlgorithm             string `env:"JWT_ALGORITHM" envDefault:"HS256"`
	AccessTokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`
	ResetTokenExpireMinutes  int    `env:"RESET_TOKEN_EXPIRE_MINUTES" envDefault:"15"`

	// Password
	PasswordMinLength int `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	BcryptCost        int `env:"BCRYPT_COST" envDefault:"12"`

	// OAuth
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string        `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `env:"GITHUB_CLIENT_SECRET"`
	OAuthSuccessURL    string        `env:"OAUTH_SUCCESS_URL"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// Two-factor
	TwoFactorIssuerName string `env:"TWO_FACTOR_ISSUER_NAME" envDefault:"Vulsoft"`

	// Password reset
	ResetPasswordURL string `env:"RESET_PASSWORD_URL"`

	// Notification
	NotifyWorkers   int `env:"NOTIFY_WORKERS" envDefault:"2"`
	NotifyQueueSize int `env:"NOTIFY_QUEUE_SIZE" envDefault:"100"`

	// Rate Limit (requests per minute)
	RateLimitGeneral     int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitCredentials int `env:"RATE_LIMIT_CREDENTIALS" envDefault:"10"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecretKey == "" {
		missing = append(missing, "JWT_SECRET_KEY")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("unsupported JWT_ALGORITHM: %s", cfg.JWTAlgorithm)
	}
	if cfg.AccessTokenExpireMinutes <= 0 || cfg.ResetTokenExpireMinutes <= 0 {
		return nil, fmt.Errorf("token expiry minutes must be positive")
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	if cfg.ResetPasswordURL == "" {
		cfg.ResetPasswordURL = cfg.BaseURL + "/reset-password"
	}
	if cfg.OAuthSuccessURL == "" {
		cfg.OAuthSuccessURL = cfg.BaseURL + "/auth/success"
	}

	return cfg, nil
}

// AccessTokenTTL はアクセストークンの有効期間を返す。
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// ResetTokenTTL はパスワード再設定トークンの有効期間を返す。
func (c *Config) ResetTokenTTL() time.Duration {
	return time.Duration(c.ResetTokenExpireMinutes) * time.Minute
}

// GoogleRedirectURL はGoogleのコールバックURLを返す。
func (c *Config) GoogleRedirectURL() string {
	return c.BaseURL + "/callback/google"
}

// GitHubRedirectURL はGitHubのコールバックURLを返す。
func (c *Config) GitHubRedirectURL() string {
	return c.BaseURL + "/callback/github"
}
