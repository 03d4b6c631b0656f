// Package middleware はゲートウェイのGin HTTP APIで使用する共通ミドルウェアを提供する。
//
// セッショントークン（Bearer）の検証、リクエストログ、パニックリカバリ、
// フロントエンド向けのCORS設定を含む。
package middleware
