package audit

import (
	"encoding/json"
	"time"
)

// Type は監査イベントの種類を表す。
type Type string

const (
	// TypeUserAuthenticated は認可コードの検証に成功しトークンを発行したことを表す。
	TypeUserAuthenticated Type = "UserAuthenticated"
	// TypeAuthenticationFailed は認可コードの検証に失敗したことを表す。
	TypeAuthenticationFailed Type = "AuthenticationFailed"
	// TypeSessionRefreshed はリフレッシュトークンから新しいトークンの組を発行したことを表す。
	TypeSessionRefreshed Type = "SessionRefreshed"
	// TypeRefreshRejected はリフレッシュトークンを拒否したことを表す。
	TypeRefreshRejected Type = "RefreshRejected"
)

// Reason は認証失敗の原因を表す安定した識別子。
type Reason string

const (
	ReasonPKCEMismatch       Reason = "pkce_mismatch"
	ReasonExchangeFailed     Reason = "exchange_failed"
	ReasonProfileFetchFailed Reason = "profile_fetch_failed"
	ReasonMissingIDToken     Reason = "missing_id_token"
	ReasonInvalidIDToken     Reason = "invalid_id_token"
	ReasonInvalidToken       Reason = "invalid_token"
	ReasonInternal           Reason = "internal"
)

// Event は監査イベントのレコード。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Provider はIDプロバイダ名。リフレッシュでは空。
	Provider string `json:"provider,omitempty"`
	// Subject はユーザーのプロバイダ側ID。特定できなければ空。
	Subject string `json:"subject,omitempty"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// UserAuthenticatedData はUserAuthenticatedイベントのデータ。
type UserAuthenticatedData struct {
	// Username は正規化後のユーザー名。
	Username string `json:"username"`
	// EmailPresent はメールアドレスを取得できたかどうか。
	EmailPresent bool `json:"email_present"`
	// PKCE はcode_verifierの照合を行ったかどうか。
	PKCE bool `json:"pkce"`
}

// AuthenticationFailedData はAuthenticationFailedイベントのデータ。
type AuthenticationFailedData struct {
	Reason Reason `json:"reason"`
}

// SessionRefreshedData はSessionRefreshedイベントのデータ。
type SessionRefreshedData struct {
	// RefreshTokenID は消費したリフレッシュトークンのjti。
	RefreshTokenID string `json:"refresh_token_id"`
}

// RefreshRejectedData はRefreshRejectedイベントのデータ。
type RefreshRejectedData struct {
	Reason Reason `json:"reason"`
}
