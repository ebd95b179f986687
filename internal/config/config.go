package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinSessionSecretLength はセッション署名鍵の最小バイト長。
const MinSessionSecretLength = 32

// CallbackPath はOAuthコールバックのパス。
const CallbackPath = "/auth"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 秘密情報とIdPの接続先にはデフォルト値を持たせない。
type Config struct {
	// Database
	DatabaseURL  string        `env:"DATABASE_URL,notEmpty"`
	AutoMigrate  bool          `env:"AUTO_MIGRATE" envDefault:"false"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// OIDC
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID,notEmpty"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET,notEmpty"`
	OIDCIssuerURL      string        `env:"OIDC_ISSUER_URL,notEmpty"`
	OAuthStateTTL      time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	DiscoveryTTL       time.Duration `env:"DISCOVERY_TTL" envDefault:"1h"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// Session
	SessionSecret     string `env:"SESSION_SECRET,notEmpty"`
	SessionCookieName string `env:"SESSION_COOKIE_NAME" envDefault:"usergate_session"`
	SessionMaxAge     int    `env:"SESSION_MAX_AGE" envDefault:"1209600"`

	// Cookie
	CookieSameSite  string `env:"COOKIE_SAMESITE" envDefault:"lax"`
	CookieDomain    string `env:"COOKIE_DOMAIN"`
	CookieSecureRaw string `env:"COOKIE_SECURE"`
	CookieSecure    bool

	// Rate Limit（req/min/client）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitWrite   int `env:"RATE_LIMIT_WRITE" envDefault:"30"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,notEmpty"`

	// CORS（空の場合はCORSヘッダーを付与しない）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をすべて含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	secure, err := resolveCookieSecure(cfg.CookieSecureRaw, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	cfg.CookieSecure = secure

	return cfg, nil
}

// validate は読み込んだ値の整合性を検証する。
func (c *Config) validate() error {
	var errs []error

	if len(c.SessionSecret) < MinSessionSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLength))
	}

	for key, raw := range map[string]string{"BASE_URL": c.BaseURL, "OIDC_ISSUER_URL": c.OIDCIssuerURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute http(s) URL: %q", key, raw))
		}
	}

	if _, ok := sameSiteModes[strings.ToLower(c.CookieSameSite)]; !ok {
		errs = append(errs, fmt.Errorf("COOKIE_SAMESITE must be one of lax, strict, none: %q", c.CookieSameSite))
	}

	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("SESSION_MAX_AGE must be positive"))
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitWrite <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL and RATE_LIMIT_WRITE must be positive"))
	}

	return errors.Join(errs...)
}

var sameSiteModes = map[string]http.SameSite{
	"lax":    http.SameSiteLaxMode,
	"strict": http.SameSiteStrictMode,
	"none":   http.SameSiteNoneMode,
}

// SameSite はCOOKIE_SAMESITEに対応するhttp.SameSiteを返す。
func (c *Config) SameSite() http.SameSite {
	if mode, ok := sameSiteModes[strings.ToLower(c.CookieSameSite)]; ok {
		return mode
	}
	return http.SameSiteLaxMode
}

// RedirectURL はIdPに登録するコールバックURLを返す。
func (c *Config) RedirectURL() string {
	return c.BaseURL + CallbackPath
}

// resolveCookieSecure はCOOKIE_SECUREが明示されていればそれを、
// なければBASE_URLがhttpsかどうかでSecure属性を決める。
func resolveCookieSecure(raw, baseURL string) (bool, error) {
	if raw == "" {
		return strings.HasPrefix(baseURL, "https://"), nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("COOKIE_SECURE must be a boolean: %q", raw)
	}
	return v, nil
}
