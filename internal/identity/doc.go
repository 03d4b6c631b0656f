// Package identity はIDプロバイダごとに異なるプロフィール形式を
// ゲートウェイ共通のIdentityに正規化する。
package identity
