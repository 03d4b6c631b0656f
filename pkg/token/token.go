package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nao1215/oauth-gateway/internal/identity"
)

const (
	// AccessTokenTTL はアクセストークンの有効期間。
	AccessTokenTTL = time.Hour
	// RefreshTokenTTL はリフレッシュトークンの有効期間。
	RefreshTokenTTL = 7 * 24 * time.Hour
	// DefaultIssuer はissクレームの既定値。
	DefaultIssuer = "oauth-gateway"

	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrInvalidToken は署名不正・期限切れ・形式不正・種別違いのいずれかを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmptySecret は署名鍵が空の場合に返される。
	ErrEmptySecret = errors.New("token secret must not be empty")
)

// Pair はアクセストークンとリフレッシュトークンの組。
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AccessClaims はアクセストークンのクレーム。
type AccessClaims struct {
	jwt.RegisteredClaims
	// Username はログイン名。
	Username string `json:"username"`
	// Name は表示名。
	Name string `json:"name"`
	// Email はメールアドレス。未取得なら省略する。
	Email string `json:"email,omitempty"`
	// Avatar はアバター画像URL。未取得なら省略する。
	Avatar string `json:"avatar,omitempty"`
	// Type はトークン種別。常に "access"。
	Type string `json:"type"`
}

// RefreshClaims はリフレッシュトークンのクレーム。subject以外のプロフィールは持たない。
type RefreshClaims struct {
	jwt.RegisteredClaims
	// Type はトークン種別。常に "refresh"。
	Type string `json:"type"`
}

// Codec はセッショントークンの発行と検証を行う。
// 生成後は読み取り専用なので複数goroutineから同時に使用できる。
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option はCodecの設定を変更する。
type Option func(*Codec)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithIssuer はissクレームの値を変更する。
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// NewCodec は署名鍵secretを使うCodecを生成する。
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue はidのアクセストークンとリフレッシュトークンを発行する。
func (c *Codec) Issue(id identity.Identity) (Pair, error) {
	now := c.now()

	access, err := c.sign(AccessClaims{
		RegisteredClaims: c.registered(id.ProviderUserID, now, AccessTokenTTL),
		Username:         id.Username,
		Name:             id.DisplayName,
		Email:            id.Email,
		Avatar:           id.AvatarURL,
		Type:             typeAccess,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("アクセストークンの署名に失敗: %w", err)
	}

	refresh, err := c.sign(RefreshClaims{
		RegisteredClaims: c.registered(id.ProviderUserID, now, RefreshTokenTTL),
		Type:             typeRefresh,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("リフレッシュトークンの署名に失敗: %w", err)
	}

	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess はアクセストークンを検証しクレームを返す。
func (c *Codec) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess {
		return nil, fmt.Errorf("%w: type=%q", ErrInvalidToken, claims.Type)
	}
	return claims, nil
}

// VerifyRefresh はリフレッシュトークンを検証しクレームを返す。
func (c *Codec) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh {
		return nil, fmt.Errorf("%w: type=%q", ErrInvalidToken, claims.Type)
	}
	return claims, nil
}

// Refresh はリフレッシュトークンを検証し、新しいトークンの組を発行する。
// リフレッシュトークンはsubしか持たないため、再発行したアクセストークンの
// プロフィール項目は空になる。
func (c *Codec) Refresh(refreshToken string) (Pair, error) {
	claims, err := c.VerifyRefresh(refreshToken)
	if err != nil {
		return Pair{}, err
	}
	return c.Issue(identity.Identity{ProviderUserID: claims.Subject})
}

func (c *Codec) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// parse は署名・アルゴリズム・有効期限・発行者を検証する。
// 厳格なbase64デコードにより、どの1文字を改ざんしても失敗する。
func (c *Codec) parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return nil
}
