// Package config は環境変数からゲートウェイの設定を読み込む。
//
// 設定は起動時に一度だけ構築し、以降は読み取り専用の値として各コンポーネントに渡す。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/nao1215/oauth-gateway/internal/provider/github"
	"github.com/nao1215/oauth-gateway/internal/provider/google"
)

// Config はゲートウェイ全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8000"`
	// FrontendURL はCORSで許可するフロントエンドのオリジン。
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	// JWTSecret はセッショントークンの署名鍵。
	JWTSecret string `env:"JWT_SECRET,notEmpty"`
	// TokenIssuer はセッショントークンのiss。
	TokenIssuer string `env:"TOKEN_ISSUER" envDefault:"oauth-gateway"`
	// OutboundTimeout はIDプロバイダ等への外向き通信1回あたりのタイムアウト。
	OutboundTimeout time.Duration `env:"OUTBOUND_TIMEOUT" envDefault:"5s"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// LogLevel はdebug/info/warn/errorのいずれか。
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat はjsonまたはtext。
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// UpstreamURL は認証済みリクエストの転送先。空ならプロキシを無効にする。
	UpstreamURL string `env:"UPSTREAM_URL"`

	GitHub GitHubConfig `envPrefix:"GITHUB_"`
	Google GoogleConfig `envPrefix:"GOOGLE_"`
}

// GitHubConfig はGitHub OAuth2の設定。
type GitHubConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
	AuthURL      string `env:"AUTH_URL" envDefault:"https://github.com/login/oauth/authorize"`
	TokenURL     string `env:"TOKEN_URL" envDefault:"https://github.com/login/oauth/access_token"`
	APIURL       string `env:"API_URL" envDefault:"https://api.github.com"`
}

// GoogleConfig はGoogle OpenID Connectの設定。
type GoogleConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL" envDefault:"http://localhost:5173/auth/google/callback"`
	AuthURL      string `env:"AUTH_URL" envDefault:"https://accounts.google.com/o/oauth2/v2/auth"`
	TokenURL     string `env:"TOKEN_URL" envDefault:"https://oauth2.googleapis.com/token"`
	JWKSURL      string `env:"JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	Issuer       string `env:"ISSUER" envDefault:"https://accounts.google.com"`
	CacheJWKS    bool   `env:"CACHE_JWKS" envDefault:"true"`
}

// Enabled はクライアントIDとシークレットが両方設定されているかを返す。
func (c GitHubConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Enabled はクライアントIDとシークレットが両方設定されているかを返す。
func (c GoogleConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Provider はgithubパッケージ向けの設定に変換する。
func (c GitHubConfig) Provider() github.Config {
	return github.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		AuthURL:      c.AuthURL,
		TokenURL:     c.TokenURL,
		APIURL:       c.APIURL,
	}
}

// Provider はgoogleパッケージ向けの設定に変換する。
func (c GoogleConfig) Provider() google.Config {
	return google.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		AuthURL:      c.AuthURL,
		TokenURL:     c.TokenURL,
		JWKSURL:      c.JWKSURL,
		Issuer:       c.Issuer,
		CacheKeys:    c.CacheJWKS,
	}
}

// Load はプロセスの環境変数から設定を読み込み検証する。
func Load() (Config, error) {
	return load(env.Options{})
}

// LoadFrom は与えられた環境変数の組から設定を読み込む。テスト用。
func LoadFrom(environ map[string]string) (Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は値の整合性を検証する。
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRETが設定されていません"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORTが空です"))
	}
	if c.OutboundTimeout <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOUND_TIMEOUTは正の値が必要です: %s", c.OutboundTimeout))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUTは正の値が必要です: %s", c.ShutdownTimeout))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMATはjsonかtextです: %q", c.LogFormat))
	}
	if c.UpstreamURL != "" {
		if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("UPSTREAM_URLが不正です: %q", c.UpstreamURL))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("設定が不正: %w", err)
	}
	return nil
}
