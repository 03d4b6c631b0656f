// Package audit は認証に関する監査イベントを定義する。
//
// イベントは不変のレコードとして生成され、Recorderを通じて記録される。
// ゲートウェイは永続化を行わないため、標準のRecorderは構造化ログに書き出す。
package audit
