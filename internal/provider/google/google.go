// Package google はGoogle OpenID ConnectのIDプロバイダクライアントを提供する。
//
// 認可コードの交換で得たIDトークンをGoogleの公開鍵（JWKS）で検証し、
// 検証済みクレームだけからプロフィールを組み立てる。
package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/nao1215/oauth-gateway/internal/identity"
	"github.com/nao1215/oauth-gateway/internal/provider"
	"github.com/nao1215/oauth-gateway/pkg/httpclient"
)

// Name はレジストリ上のプロバイダ名。
const Name = "google"

const (
	// DefaultAuthURL はGoogleの認可エンドポイント。
	DefaultAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"
	// DefaultTokenURL はGoogleのトークンエンドポイント。
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// DefaultJWKSURL はGoogleの公開鍵セットのURL。
	DefaultJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	// DefaultIssuer はGoogleが発行するIDトークンのiss。
	DefaultIssuer = "https://accounts.google.com"
)

// Config はGoogleクライアントの設定。
type Config struct {
	ClientID     string
	ClientSecret string
	// RedirectURL はトークン交換時に送るredirect_uri。認可時と一致している必要がある。
	RedirectURL string
	AuthURL     string
	TokenURL    string
	JWKSURL     string
	Issuer      string
	// CacheKeys がfalseの場合は検証のたびにJWKSを取得する。
	CacheKeys bool
}

// Provider はGoogleのIDプロバイダクライアント。
type Provider struct {
	oauth      *oauth2.Config
	clientID   string
	issuer     string
	jwksURL    string
	cacheKeys  bool
	keySet     oidc.KeySet
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option はProviderの設定を変更する。
type Option func(*Provider)

// WithHTTPClient は外向き通信に使う*http.Clientを指定する。
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// WithLogger はロガーを指定する。
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithClock はIDトークンの有効期限判定に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// New はGoogleクライアントを生成する。
func New(cfg Config, opts ...Option) *Provider {
	p := &Provider{
		clientID:   cfg.ClientID,
		issuer:     orDefault(cfg.Issuer, DefaultIssuer),
		jwksURL:    orDefault(cfg.JWKSURL, DefaultJWKSURL),
		cacheKeys:  cfg.CacheKeys,
		httpClient: &http.Client{Timeout: httpclient.DefaultTimeout},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   orDefault(cfg.AuthURL, DefaultAuthURL),
			TokenURL:  orDefault(cfg.TokenURL, DefaultTokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{oidc.ScopeOpenID, "email", "profile"},
	}
	if p.cacheKeys {
		// RemoteKeySetは鍵をメモリに保持し、未知のkidが現れたときだけ再取得する
		p.keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), p.httpClient), p.jwksURL)
	}
	return p
}

// Name はプロバイダ名を返す。
func (p *Provider) Name() string {
	return Name
}

// AuthCodeURL はGoogleの認可URLを返す。
func (p *Provider) AuthCodeURL(state, codeChallenge string) string {
	opts := append([]oauth2.AuthCodeOption{oauth2.AccessTypeOnline}, provider.AuthCodeOptions(codeChallenge)...)
	return p.oauth.AuthCodeURL(state, opts...)
}

// Exchange は認可コードをトークンに交換する。
// 応答にid_tokenが無い場合はErrMissingIDTokenを返す。
func (p *Provider) Exchange(ctx context.Context, req provider.AuthorizationRequest) (*provider.TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.oauth.Exchange(ctx, req.Code, provider.ExchangeOptions(req.CodeVerifier)...)
	if err != nil {
		return nil, fmt.Errorf("%w: google status=%d: %w", provider.ErrExchangeFailed, provider.UpstreamStatus(err), err)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, provider.ErrMissingIDToken
	}
	return &provider.TokenResponse{AccessToken: tok.AccessToken, IDToken: rawIDToken}, nil
}

// VerifyIdentity はIDトークンを検証し、そのクレームからプロフィールを返す。
func (p *Provider) VerifyIdentity(ctx context.Context, tokens *provider.TokenResponse) (identity.Profile, error) {
	if tokens.IDToken == "" {
		return nil, provider.ErrMissingIDToken
	}
	profile, err := p.VerifyIDToken(ctx, tokens.IDToken, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	return *profile, nil
}

// VerifyIDToken はIDトークンの署名・aud・iss・有効期限を検証する。
// accessTokenが空でなければat_hashとの一致も確認し、at_hashが無いトークンは拒否する。
func (p *Provider) VerifyIDToken(ctx context.Context, rawIDToken, accessToken string) (*identity.GoogleProfile, error) {
	verifier := oidc.NewVerifier(p.issuer, p.keys(), &oidc.Config{
		ClientID: p.clientID,
		Now:      p.now,
	})

	idToken, err := verifier.Verify(oidc.ClientContext(ctx, p.httpClient), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrInvalidIDToken, err)
	}
	if accessToken != "" {
		if err := idToken.VerifyAccessToken(accessToken); err != nil {
			return nil, fmt.Errorf("%w: at_hash: %w", provider.ErrInvalidIDToken, err)
		}
	}

	var profile identity.GoogleProfile
	if err := idToken.Claims(&profile); err != nil {
		return nil, fmt.Errorf("%w: クレームの読み取りに失敗: %w", provider.ErrInvalidIDToken, err)
	}
	if profile.Subject == "" {
		return nil, fmt.Errorf("%w: subが空", provider.ErrInvalidIDToken)
	}

	p.logger.DebugContext(ctx, "GoogleのIDトークンを検証",
		"issuer", idToken.Issuer,
		"expiry", idToken.Expiry.Unix(),
		"email_present", profile.Email != "",
	)
	return &profile, nil
}

// keys は検証に使う鍵セットを返す。
// キャッシュが無効なら毎回新しいRemoteKeySetを作りJWKSを取得し直す。
func (p *Provider) keys() oidc.KeySet {
	if p.keySet != nil {
		return p.keySet
	}
	return oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), p.httpClient), p.jwksURL)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
