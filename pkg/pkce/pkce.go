package pkce

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// MethodS256 はサポートするcode_challenge_method。
const MethodS256 = "S256"

// Challenge はverifierからS256方式のcode_challengeを計算する。
// base64url(パディングなし)でエンコードしたSHA-256ダイジェストを返す。
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// Verify はverifierとchallengeの組が一致するかを判定する。
// どちらかが空の場合はPKCEを使用していないとみなしtrueを返す。
func Verify(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return true
	}
	computed := Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// GenerateVerifier は新しいランダムなcode_verifierを生成する。
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}
