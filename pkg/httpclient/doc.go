// Package httpclient は外部サービスとのHTTP通信を行うクライアントを提供する。
//
// IDプロバイダのAPI呼び出しやアップストリームへのプロキシなど、
// ゲートウェイから外へ出ていく通信はすべてこのパッケージを経由する。
// タイムアウト付きの*http.Clientを共有し、コンテキストに載せた
// Bearerトークンやユーザーをヘッダーとして伝播する。
package httpclient
