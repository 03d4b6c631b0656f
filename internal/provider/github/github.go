// Package github はGitHub OAuth2のIDプロバイダクライアントを提供する。
//
// GitHubはOIDCに対応していないため、認可コードの交換で得たアクセストークンで
// /user を呼び出した結果を信頼の根拠とする。
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/nao1215/oauth-gateway/internal/identity"
	"github.com/nao1215/oauth-gateway/internal/provider"
	"github.com/nao1215/oauth-gateway/pkg/httpclient"
)

// Name はレジストリ上のプロバイダ名。
const Name = "github"

const (
	// DefaultAuthURL はGitHubの認可エンドポイント。
	DefaultAuthURL = "https://github.com/login/oauth/authorize"
	// DefaultTokenURL はGitHubのトークンエンドポイント。
	DefaultTokenURL = "https://github.com/login/oauth/access_token"
	// DefaultAPIURL はGitHub REST APIのベースURL。
	DefaultAPIURL = "https://api.github.com"
)

// Config はGitHubクライアントの設定。
type Config struct {
	ClientID     string
	ClientSecret string
	// RedirectURL は空ならGitHub側の登録値が使われる。
	RedirectURL string
	AuthURL     string
	TokenURL    string
	APIURL      string
}

// Provider はGitHubのIDプロバイダクライアント。
type Provider struct {
	oauth      *oauth2.Config
	api        *httpclient.Client
	httpClient *http.Client
	logger     *slog.Logger
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

// New はGitHubクライアントを生成する。
func New(cfg Config, opts ...Option) *Provider {
	p := &Provider{
		httpClient: &http.Client{Timeout: httpclient.DefaultTimeout},
		logger:     slog.Default(),
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
		Scopes: []string{"read:user", "user:email"},
	}
	p.api = httpclient.New(orDefault(cfg.APIURL, DefaultAPIURL), httpclient.WithHTTPClient(p.httpClient))
	return p
}

// Name はプロバイダ名を返す。
func (p *Provider) Name() string {
	return Name
}

// AuthCodeURL はGitHubの認可URLを返す。
func (p *Provider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauth.AuthCodeURL(state, provider.AuthCodeOptions(codeChallenge)...)
}

// Exchange は認可コードをアクセストークンに交換する。
// クライアント資格情報はフォームボディで送る。
func (p *Provider) Exchange(ctx context.Context, req provider.AuthorizationRequest) (*provider.TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.oauth.Exchange(ctx, req.Code, provider.ExchangeOptions(req.CodeVerifier)...)
	if err != nil {
		return nil, fmt.Errorf("%w: github status=%d: %w", provider.ErrExchangeFailed, provider.UpstreamStatus(err), err)
	}
	return &provider.TokenResponse{AccessToken: tok.AccessToken}, nil
}

// VerifyIdentity はアクセストークンでプロフィールを取得し、
// メールアドレスが非公開なら登録済みメールからprimaryを補完する。
func (p *Provider) VerifyIdentity(ctx context.Context, tokens *provider.TokenResponse) (identity.Profile, error) {
	profile, err := p.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	if profile.Email == "" {
		profile.Email = p.primaryEmail(ctx, tokens.AccessToken)
	}
	return *profile, nil
}

// FetchProfile は /user を呼び出してプロフィールを取得する。
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*identity.GitHubProfile, error) {
	ctx = httpclient.WithBearerToken(ctx, accessToken)

	var profile identity.GitHubProfile
	if err := p.api.GetJSON(ctx, "/user", &profile); err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrProfileFetchFailed, err)
	}
	if profile.ID == 0 || profile.Login == "" {
		return nil, fmt.Errorf("%w: idまたはloginが空", provider.ErrProfileFetchFailed)
	}
	return &profile, nil
}

// githubEmail は /user/emails の要素。
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// primaryEmail は /user/emails からprimaryのアドレスを返す。
// 取得できなくても認証は続行するため、失敗時は空文字列を返す。
func (p *Provider) primaryEmail(ctx context.Context, accessToken string) string {
	ctx = httpclient.WithBearerToken(ctx, accessToken)

	var emails []githubEmail
	if err := p.api.GetJSON(ctx, "/user/emails", &emails); err != nil {
		p.logger.WarnContext(ctx, "GitHubのメールアドレス取得に失敗", "error", err)
		return ""
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email
		}
	}
	p.logger.WarnContext(ctx, "GitHubにprimaryのメールアドレスが登録されていない", "count", len(emails))
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
