package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/oauth2"

	"github.com/nao1215/oauth-gateway/internal/identity"
)

var (
	// ErrExchangeFailed は認可コードの交換に失敗したことを表す。
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	// ErrProfileFetchFailed はプロフィールAPIの呼び出しに失敗したことを表す。
	ErrProfileFetchFailed = errors.New("profile fetch failed")
	// ErrMissingIDToken はトークンレスポンスにid_tokenが含まれないことを表す。
	ErrMissingIDToken = errors.New("id_token missing from token response")
	// ErrInvalidIDToken はIDトークンの検証に失敗したことを表す。
	ErrInvalidIDToken = errors.New("invalid id_token")
	// ErrUnknownProvider は登録されていないプロバイダ名が指定されたことを表す。
	ErrUnknownProvider = errors.New("unknown provider")
)

// AuthorizationRequest はクライアントから受け取った認可コードとPKCEパラメータ。
type AuthorizationRequest struct {
	// Code は認可コード。
	Code string
	// CodeVerifier はPKCEのcode_verifier。任意。
	CodeVerifier string
	// CodeChallenge はPKCEのcode_challenge。任意。
	CodeChallenge string
	// State はCSRF対策のstate。ゲートウェイは保持しない。
	State string
}

// TokenResponse はプロバイダのトークンエンドポイントの応答。
type TokenResponse struct {
	// AccessToken はプロバイダのアクセストークン。
	AccessToken string
	// IDToken はOIDCのIDトークン。OIDC非対応のプロバイダでは空。
	IDToken string
}

// Provider はIDプロバイダのクライアント。
type Provider interface {
	// Name はプロバイダ名（"github", "google"）を返す。
	Name() string
	// AuthCodeURL は認可エンドポイントへのURLを組み立てる。
	AuthCodeURL(state, codeChallenge string) string
	// Exchange は認可コードをトークンに交換する。
	Exchange(ctx context.Context, req AuthorizationRequest) (*TokenResponse, error)
	// VerifyIdentity はトークンから信頼できるプロフィールを取り出す。
	VerifyIdentity(ctx context.Context, tokens *TokenResponse) (identity.Profile, error)
}

// AuthCodeOptions はAuthCodeURLに付与するPKCEパラメータを返す。
func AuthCodeOptions(codeChallenge string) []oauth2.AuthCodeOption {
	if codeChallenge == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
}

// ExchangeOptions はトークン交換に付与するcode_verifierを返す。
func ExchangeOptions(codeVerifier string) []oauth2.AuthCodeOption {
	if codeVerifier == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{oauth2.VerifierOption(codeVerifier)}
}

// UpstreamStatus はoauth2のエラーからトークンエンドポイントのステータスコードを取り出す。
// 取り出せない場合は0を返す。
func UpstreamStatus(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}

// Registry は設定済みのプロバイダを名前で引けるようにする。
type Registry struct {
	providers map[string]Provider
}

// NewRegistry はプロバイダを名前で登録する。nilは無視する。
func NewRegistry(list ...Provider) *Registry {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		if p == nil {
			continue
		}
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get は名前に対応するプロバイダを返す。
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names は登録済みのプロバイダ名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
