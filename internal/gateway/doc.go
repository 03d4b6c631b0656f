// Package gateway は認証ゲートウェイの内部実装を提供する。
//
// GitHub/Googleから受け取った認可コードをプロバイダのトークンに交換し、
// 正規化したユーザー情報から自前のセッショントークン（アクセス/リフレッシュ）を発行する。
// ユーザー情報は保存せず、リクエストごとに完結する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
package gateway
