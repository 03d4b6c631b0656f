// Package pkce はRFC 7636のPKCE（Proof Key for Code Exchange）検証を提供する。
//
// クライアントが送ってきたcode_verifierとcode_challengeの組をS256方式で照合する。
// どちらか一方でも空の場合は検証対象外として扱う。
package pkce
