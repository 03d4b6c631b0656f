package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/oauth-gateway/internal/identity"
	"github.com/nao1215/oauth-gateway/internal/provider"
	"github.com/nao1215/oauth-gateway/pkg/audit"
	"github.com/nao1215/oauth-gateway/pkg/pkce"
	"github.com/nao1215/oauth-gateway/pkg/token"
)

var (
	// ErrAuthFailed はプロバイダとのやり取りのどこかで認証が成立しなかったことを表す。
	// クライアントには原因を区別せず返す。
	ErrAuthFailed = errors.New("authentication failed")
	// ErrInternal は想定外の内部エラーを表す。
	ErrInternal = errors.New("internal error")
	// ErrPKCEMismatch はcode_verifierとcode_challengeが一致しないことを表す。
	ErrPKCEMismatch = errors.New("pkce verification failed")
	// ErrProviderNotConfigured は資格情報が設定されていないプロバイダが指定されたことを表す。
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// UserSummary はクライアントに返すユーザー情報。
// 未取得のemailとavatarはnullで返す。
type UserSummary struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Name     string  `json:"name"`
	Email    *string `json:"email"`
	Avatar   *string `json:"avatar"`
}

// AuthResult は認証成功時のレスポンス。
type AuthResult struct {
	User         UserSummary `json:"user"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
}

// Service は認証フローを組み立てる。
type Service struct {
	providers *provider.Registry
	codec     *token.Codec
	logger    *slog.Logger
	recorder  audit.Recorder
}

// ServiceOption はServiceの設定を変更する。
type ServiceOption func(*Service)

// WithRecorder は監査イベントの記録先を指定する。既定ではloggerに書き出す。
func WithRecorder(r audit.Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService はServiceを生成する。
func NewService(providers *provider.Registry, codec *token.Codec, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		providers: providers,
		codec:     codec,
		logger:    logger,
		recorder:  audit.NewLogRecorder(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate は認可コードを検証済みのユーザー情報に変換し、セッショントークンを発行する。
// PKCE照合、コード交換、本人確認、正規化、発行の順に進み、どこかで失敗したら打ち切る。
func (s *Service) Authenticate(ctx context.Context, providerName string, req provider.AuthorizationRequest) (*AuthResult, error) {
	p, err := s.providers.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderNotConfigured, err)
	}

	if !pkce.Verify(req.CodeVerifier, req.CodeChallenge) {
		return nil, s.fail(ctx, providerName, ErrPKCEMismatch)
	}

	tokens, err := p.Exchange(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, providerName, err)
	}

	profile, err := p.VerifyIdentity(ctx, tokens)
	if err != nil {
		return nil, s.fail(ctx, providerName, err)
	}

	id := profile.Normalize()
	pair, err := s.codec.Issue(id)
	if err != nil {
		return nil, s.fail(ctx, providerName, err)
	}

	s.logger.InfoContext(ctx, "認証に成功", "provider", providerName, "subject", id.ProviderUserID)
	audit.Emit(ctx, s.recorder, audit.TypeUserAuthenticated, providerName, id.ProviderUserID, audit.UserAuthenticatedData{
		Username:     id.Username,
		EmailPresent: id.Email != "",
		PKCE:         req.CodeVerifier != "" && req.CodeChallenge != "",
	})
	return &AuthResult{
		User:         summaryFromIdentity(id),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// RefreshSession はリフレッシュトークンから新しいトークンの組を発行する。
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (token.Pair, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		audit.Emit(ctx, s.recorder, audit.TypeRefreshRejected, "", "", audit.RefreshRejectedData{Reason: audit.ReasonInvalidToken})
		return token.Pair{}, fmt.Errorf("リフレッシュトークンの検証に失敗: %w", err)
	}

	pair, err := s.codec.Refresh(refreshToken)
	if err != nil {
		return token.Pair{}, fmt.Errorf("トークンの再発行に失敗: %w", err)
	}
	audit.Emit(ctx, s.recorder, audit.TypeSessionRefreshed, "", claims.Subject, audit.SessionRefreshedData{RefreshTokenID: claims.ID})
	return pair, nil
}

// WhoAmI はアクセストークンのクレームをユーザー情報に整形する。
func (s *Service) WhoAmI(accessToken string) (UserSummary, error) {
	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		return UserSummary{}, fmt.Errorf("アクセストークンの検証に失敗: %w", err)
	}
	return summaryFromClaims(claims), nil
}

// fail は原因をログに残し、クライアント向けのエラー種別に包み直す。
// プロバイダ由来の既知の失敗はErrAuthFailed、それ以外はErrInternalになる。
func (s *Service) fail(ctx context.Context, providerName string, cause error) error {
	reason := failureReason(cause)
	audit.Emit(ctx, s.recorder, audit.TypeAuthenticationFailed, providerName, "", audit.AuthenticationFailedData{Reason: reason})

	if reason != audit.ReasonInternal {
		s.logger.WarnContext(ctx, "認証に失敗", "provider", providerName, "error", cause)
		return fmt.Errorf("%w: %w", ErrAuthFailed, cause)
	}
	s.logger.ErrorContext(ctx, "認証処理で想定外のエラー", "provider", providerName, "error", cause)
	return fmt.Errorf("%w: %w", ErrInternal, cause)
}

// failureReason は失敗の原因を監査用の識別子に分類する。
// 既知の失敗に当てはまらなければReasonInternalを返す。
func failureReason(err error) audit.Reason {
	switch {
	case errors.Is(err, ErrPKCEMismatch):
		return audit.ReasonPKCEMismatch
	case errors.Is(err, provider.ErrExchangeFailed):
		return audit.ReasonExchangeFailed
	case errors.Is(err, provider.ErrProfileFetchFailed):
		return audit.ReasonProfileFetchFailed
	case errors.Is(err, provider.ErrMissingIDToken):
		return audit.ReasonMissingIDToken
	case errors.Is(err, provider.ErrInvalidIDToken):
		return audit.ReasonInvalidIDToken
	default:
		return audit.ReasonInternal
	}
}

func summaryFromIdentity(id identity.Identity) UserSummary {
	return UserSummary{
		ID:       id.ProviderUserID,
		Username: id.Username,
		Name:     id.DisplayName,
		Email:    optional(id.Email),
		Avatar:   optional(id.AvatarURL),
	}
}

// summaryFromClaims はクレームをユーザー情報に整形する。表示名が無ければユーザー名を使う。
func summaryFromClaims(claims *token.AccessClaims) UserSummary {
	name := claims.Name
	if name == "" {
		name = claims.Username
	}
	return UserSummary{
		ID:       claims.Subject,
		Username: claims.Username,
		Name:     name,
		Email:    optional(claims.Email),
		Avatar:   optional(claims.Avatar),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
