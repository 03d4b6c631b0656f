package identity

import (
	"strconv"
	"strings"
)

// Identity はプロバイダに依存しない正規化済みのユーザー情報。
// 空文字列は値が存在しないことを表す。
type Identity struct {
	// ProviderUserID はプロバイダ内で一意なユーザーID。
	ProviderUserID string
	// Username はログイン名。
	Username string
	// DisplayName は表示名。
	DisplayName string
	// Email はメールアドレス。
	Email string
	// AvatarURL はアバター画像のURL。
	AvatarURL string
}

// Profile はプロバイダ固有のプロフィール。
type Profile interface {
	// Normalize はプロフィールをIdentityに変換する。
	Normalize() Identity
}

// GitHubProfile はGitHub /user APIのレスポンス。
type GitHubProfile struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Normalize はGitHubプロフィールをIdentityに変換する。
// nameが未設定のユーザーはloginを表示名として使う。
func (p GitHubProfile) Normalize() Identity {
	displayName := p.Name
	if displayName == "" {
		displayName = p.Login
	}
	return Identity{
		ProviderUserID: strconv.FormatInt(p.ID, 10),
		Username:       p.Login,
		DisplayName:    displayName,
		Email:          p.Email,
		AvatarURL:      p.AvatarURL,
	}
}

// GoogleProfile は検証済みIDトークンから取り出したクレーム。
type GoogleProfile struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Normalize はGoogleプロフィールをIdentityに変換する。
// ユーザー名はメールアドレスのローカル部。取得できなければsubを使う。
func (p GoogleProfile) Normalize() Identity {
	return Identity{
		ProviderUserID: p.Subject,
		Username:       googleUsername(p.Email, p.Subject),
		DisplayName:    p.Name,
		Email:          p.Email,
		AvatarURL:      p.Picture,
	}
}

func googleUsername(email, subject string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return subject
	}
	return local
}
