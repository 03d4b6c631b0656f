// Package provider はOAuth2/OIDCのIDプロバイダとやり取りするクライアントの
// 共通インターフェースとエラー定義を提供する。
//
// 各プロバイダは認可コードをトークンに交換し、そのトークンから
// 信頼できるプロフィールを取り出すところまでを担当する。
// セッショントークンの発行などの判断は呼び出し側が行う。
package provider
