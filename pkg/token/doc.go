// Package token はゲートウェイが発行するセッショントークン（HS256 JWT）の
// 発行と検証を行う。
//
// アクセストークンはプロフィール情報を含み1時間で失効する。
// リフレッシュトークンはsubのみを含み7日間有効。
package token
