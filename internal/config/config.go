// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinSessionSecretLength はSESSION_SECRETの最小バイト数。
const MinSessionSecretLength = 32

// ProviderCredentials は外部IdPのクライアント認証情報。
// IDとシークレットの両方が設定されたIdPのみ有効になる。
type ProviderCredentials struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// Configured はクライアントIDとシークレットの両方が設定されているかを返す。
func (p ProviderCredentials) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Session
	SessionSecret          string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge          int           `env:"SESSION_MAX_AGE" envDefault:"86400"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Password
	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	// Identity providers
	Google              ProviderCredentials `envPrefix:"GOOGLE_"`
	GitHub              ProviderCredentials `envPrefix:"GITHUB_"`
	Facebook            ProviderCredentials `envPrefix:"FACEBOOK_"`
	Twitter             ProviderCredentials `envPrefix:"TWITTER_"`
	LinkedIn            ProviderCredentials `envPrefix:"LINKEDIN_"`
	ProviderHTTPTimeout time.Duration       `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"10s"`

	// Rate Limit (req/min/IP)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load はカレントディレクトリの.env（存在する場合）と環境変数からConfigを読み込む。
// 既に設定されている環境変数は.envの値で上書きしない。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv はpathの.envファイルを環境変数に読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func (c *Config) validate() error {
	var errs []error

	if len(c.SessionSecret) < MinSessionSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLength))
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("BASE_URL must be an absolute http(s) URL: %q", c.BaseURL))
	}

	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("SESSION_MAX_AGE must be positive"))
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitLogin <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL and RATE_LIMIT_LOGIN must be positive"))
	}

	for name, p := range c.providerMap() {
		if (p.ClientID == "") != (p.ClientSecret == "") {
			errs = append(errs, fmt.Errorf("%s: both CLIENT_ID and CLIENT_SECRET must be set", strings.ToUpper(name)))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) providerMap() map[string]ProviderCredentials {
	return map[string]ProviderCredentials{
		"google":   c.Google,
		"github":   c.GitHub,
		"facebook": c.Facebook,
		"twitter":  c.Twitter,
		"linkedin": c.LinkedIn,
	}
}

// Providers はクライアント認証情報が設定されたIdPを名前をキーとして返す。
func (c *Config) Providers() map[string]ProviderCredentials {
	out := make(map[string]ProviderCredentials)
	for name, p := range c.providerMap() {
		if p.Configured() {
			out[name] = p
		}
	}
	return out
}

// CallbackURL はIdPのコールバックURLを返す。
func (c *Config) CallbackURL(provider string) string {
	return c.BaseURL + "/auth/" + provider + "/callback"
}

// SessionMaxAgeDuration はセッションの有効期間を返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}
