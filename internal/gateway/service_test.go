package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/oauth-gateway/internal/identity"
	"github.com/nao1215/oauth-gateway/internal/provider"
	"github.com/nao1215/oauth-gateway/pkg/audit"
	"github.com/nao1215/oauth-gateway/pkg/logging"
	"github.com/nao1215/oauth-gateway/pkg/pkce"
	"github.com/nao1215/oauth-gateway/pkg/token"
)

const testSecret = "test-secret-key"

// stubProvider は任意の結果を返すテスト用のプロバイダ。
type stubProvider struct {
	name        string
	profile     identity.Profile
	exchangeErr error
	verifyErr   error
	exchanges   atomic.Int32
	lastRequest atomic.Pointer[provider.AuthorizationRequest]
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) AuthCodeURL(state, codeChallenge string) string {
	return "https://idp.example.com/authorize?state=" + state + "&code_challenge=" + codeChallenge
}

func (s *stubProvider) Exchange(_ context.Context, req provider.AuthorizationRequest) (*provider.TokenResponse, error) {
	s.exchanges.Add(1)
	s.lastRequest.Store(&req)
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &provider.TokenResponse{AccessToken: "provider-token"}, nil
}

func (s *stubProvider) VerifyIdentity(context.Context, *provider.TokenResponse) (identity.Profile, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.profile, nil
}

func newGitHubStub() *stubProvider {
	return &stubProvider{
		name: "github",
		profile: identity.GitHubProfile{
			ID:        42,
			Login:     "octo",
			Name:      "Octo Cat",
			Email:     "octo@example.com",
			AvatarURL: "https://avatars.example.com/42",
		},
	}
}

func newTestCodec(t *testing.T, opts ...token.Option) *token.Codec {
	t.Helper()

	codec, err := token.NewCodec(testSecret, opts...)
	require.NoError(t, err)
	return codec
}

func newTestService(t *testing.T, providers ...provider.Provider) (*Service, *token.Codec) {
	t.Helper()

	codec := newTestCodec(t)
	return NewService(provider.NewRegistry(providers...), codec, logging.Discard()), codec
}

func TestService_Authenticate(t *testing.T) {
	t.Parallel()

	t.Run("正規化したユーザー情報でトークンを発行する", func(t *testing.T) {
		t.Parallel()

		stub := newGitHubStub()
		svc, codec := newTestService(t, stub)

		result, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{Code: "abc123"})
		require.NoError(t, err)

		assert.Equal(t, "42", result.User.ID)
		assert.Equal(t, "octo", result.User.Username)
		assert.Equal(t, "Octo Cat", result.User.Name)
		require.NotNil(t, result.User.Email)
		assert.Equal(t, "octo@example.com", *result.User.Email)

		claims, err := codec.VerifyAccess(result.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "42", claims.Subject)
		assert.Equal(t, "octo", claims.Username)

		_, err = codec.VerifyRefresh(result.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("未取得のemailとavatarはnilになる", func(t *testing.T) {
		t.Parallel()

		stub := newGitHubStub()
		stub.profile = identity.GitHubProfile{ID: 7, Login: "ghost"}
		svc, _ := newTestService(t, stub)

		result, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{Code: "c"})
		require.NoError(t, err)
		assert.Nil(t, result.User.Email)
		assert.Nil(t, result.User.Avatar)
		assert.Equal(t, "ghost", result.User.Name)
	})

	t.Run("PKCEが一致すればverifierをプロバイダに渡す", func(t *testing.T) {
		t.Parallel()

		stub := newGitHubStub()
		svc, _ := newTestService(t, stub)
		verifier := pkce.GenerateVerifier()

		_, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{
			Code:          "c",
			CodeVerifier:  verifier,
			CodeChallenge: pkce.Challenge(verifier),
		})
		require.NoError(t, err)
		assert.Equal(t, verifier, stub.lastRequest.Load().CodeVerifier)
	})

	t.Run("PKCEが一致しなければプロバイダを呼ばずにErrAuthFailed", func(t *testing.T) {
		t.Parallel()

		stub := newGitHubStub()
		svc, _ := newTestService(t, stub)

		_, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{
			Code:          "c",
			CodeVerifier:  pkce.GenerateVerifier(),
			CodeChallenge: pkce.Challenge("different-verifier"),
		})
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.ErrorIs(t, err, ErrPKCEMismatch)
		assert.Zero(t, stub.exchanges.Load())
	})

	t.Run("未登録のプロバイダはErrProviderNotConfigured", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t)
		_, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{Code: "c"})
		assert.ErrorIs(t, err, ErrProviderNotConfigured)
	})

	failures := []struct {
		name        string
		exchangeErr error
		verifyErr   error
		want        error
	}{
		{name: "コード交換の失敗はErrAuthFailed", exchangeErr: provider.ErrExchangeFailed, want: ErrAuthFailed},
		{name: "プロフィール取得の失敗はErrAuthFailed", verifyErr: provider.ErrProfileFetchFailed, want: ErrAuthFailed},
		{name: "id_token欠落はErrAuthFailed", exchangeErr: provider.ErrMissingIDToken, want: ErrAuthFailed},
		{name: "IDトークン不正はErrAuthFailed", verifyErr: provider.ErrInvalidIDToken, want: ErrAuthFailed},
		{name: "想定外のエラーはErrInternal", verifyErr: errors.New("boom"), want: ErrInternal},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stub := newGitHubStub()
			stub.exchangeErr = tt.exchangeErr
			stub.verifyErr = tt.verifyErr
			svc, _ := newTestService(t, stub)

			_, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{Code: "c"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_RefreshSession(t *testing.T) {
	t.Parallel()

	t.Run("再発行したアクセストークンはプロフィールを持たない", func(t *testing.T) {
		t.Parallel()

		svc, codec := newTestService(t, newGitHubStub())
		result, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{Code: "c"})
		require.NoError(t, err)

		pair, err := svc.RefreshSession(context.Background(), result.RefreshToken)
		require.NoError(t, err)

		user, err := svc.WhoAmI(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "42", user.ID)
		assert.Empty(t, user.Username)
		assert.Empty(t, user.Name)
		assert.Nil(t, user.Email)
		assert.Nil(t, user.Avatar)

		_, err = codec.VerifyRefresh(pair.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("8日後のリフレッシュはErrInvalidToken", func(t *testing.T) {
		t.Parallel()

		now := time.Now()
		issuer := newTestCodec(t, token.WithClock(func() time.Time { return now }))
		pair, err := issuer.Issue(identity.Identity{ProviderUserID: "42"})
		require.NoError(t, err)

		later := newTestCodec(t, token.WithClock(func() time.Time { return now.Add(8 * 24 * time.Hour) }))
		svc := NewService(provider.NewRegistry(), later, logging.Discard())

		_, err = svc.RefreshSession(context.Background(), pair.RefreshToken)
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("アクセストークンではリフレッシュできない", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, newGitHubStub())
		result, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{Code: "c"})
		require.NoError(t, err)

		_, err = svc.RefreshSession(context.Background(), result.AccessToken)
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})
}

func TestService_WhoAmI(t *testing.T) {
	t.Parallel()

	t.Run("表示名が無ければユーザー名を使う", func(t *testing.T) {
		t.Parallel()

		svc, codec := newTestService(t)
		pair, err := codec.Issue(identity.Identity{ProviderUserID: "1", Username: "jane"})
		require.NoError(t, err)

		user, err := svc.WhoAmI(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "jane", user.Name)
	})

	t.Run("リフレッシュトークンはErrInvalidToken", func(t *testing.T) {
		t.Parallel()

		svc, codec := newTestService(t)
		pair, err := codec.Issue(identity.Identity{ProviderUserID: "1"})
		require.NoError(t, err)

		_, err = svc.WhoAmI(pair.RefreshToken)
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})
}

// recordingAudit は記録された監査イベントを保持する。
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Record(_ context.Context, e *audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) types() []audit.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]audit.Type, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.EventType)
	}
	return types
}

func TestService_Audit(t *testing.T) {
	t.Parallel()

	t.Run("成功とリフレッシュを記録する", func(t *testing.T) {
		t.Parallel()

		rec := &recordingAudit{}
		svc := NewService(provider.NewRegistry(newGitHubStub()), newTestCodec(t), logging.Discard(), WithRecorder(rec))

		result, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{Code: "c"})
		require.NoError(t, err)
		_, err = svc.RefreshSession(context.Background(), result.RefreshToken)
		require.NoError(t, err)

		assert.Equal(t, []audit.Type{audit.TypeUserAuthenticated, audit.TypeSessionRefreshed}, rec.types())
		assert.Equal(t, "42", rec.events[0].Subject)
		assert.Equal(t, "github", rec.events[0].Provider)

		data, err := audit.DecodeData[audit.SessionRefreshedData](rec.events[1])
		require.NoError(t, err)
		assert.NotEmpty(t, data.RefreshTokenID)
	})

	t.Run("失敗は原因の識別子とともに記録する", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			err  error
			want audit.Reason
		}{
			{err: provider.ErrExchangeFailed, want: audit.ReasonExchangeFailed},
			{err: provider.ErrProfileFetchFailed, want: audit.ReasonProfileFetchFailed},
			{err: provider.ErrMissingIDToken, want: audit.ReasonMissingIDToken},
			{err: provider.ErrInvalidIDToken, want: audit.ReasonInvalidIDToken},
			{err: errors.New("boom"), want: audit.ReasonInternal},
		}
		for _, tt := range tests {
			rec := &recordingAudit{}
			stub := newGitHubStub()
			stub.exchangeErr = tt.err
			svc := NewService(provider.NewRegistry(stub), newTestCodec(t), logging.Discard(), WithRecorder(rec))

			_, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{Code: "c"})
			require.Error(t, err)
			require.Len(t, rec.events, 1)
			assert.Equal(t, audit.TypeAuthenticationFailed, rec.events[0].EventType)

			data, err := audit.DecodeData[audit.AuthenticationFailedData](rec.events[0])
			require.NoError(t, err)
			assert.Equal(t, tt.want, data.Reason)
		}
	})

	t.Run("PKCE不一致とリフレッシュ拒否を記録する", func(t *testing.T) {
		t.Parallel()

		rec := &recordingAudit{}
		svc := NewService(provider.NewRegistry(newGitHubStub()), newTestCodec(t), logging.Discard(), WithRecorder(rec))

		_, err := svc.Authenticate(context.Background(), "github", provider.AuthorizationRequest{
			Code:          "c",
			CodeVerifier:  pkce.GenerateVerifier(),
			CodeChallenge: "mismatch",
		})
		require.Error(t, err)
		_, err = svc.RefreshSession(context.Background(), "garbage")
		require.Error(t, err)

		assert.Equal(t, []audit.Type{audit.TypeAuthenticationFailed, audit.TypeRefreshRejected}, rec.types())
		data, err := audit.DecodeData[audit.AuthenticationFailedData](rec.events[0])
		require.NoError(t, err)
		assert.Equal(t, audit.ReasonPKCEMismatch, data.Reason)
	})
}
