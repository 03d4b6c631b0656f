package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// New は新しい監査イベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(eventType Type, providerName, subject string, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:        uuid.New().String(),
		EventType: eventType,
		Provider:  providerName,
		Subject:   subject,
		Data:      jsonData,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

// Recorder は監査イベントを記録する。
type Recorder interface {
	Record(ctx context.Context, e *Event)
}

// LogRecorder は監査イベントを構造化ログに書き出すRecorder。
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder はloggerに書き出すRecorderを生成する。
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record はイベントを1行のログとして書き出す。
func (r *LogRecorder) Record(ctx context.Context, e *Event) {
	r.logger.InfoContext(ctx, "audit",
		slog.Group("audit",
			"id", e.ID,
			"event_type", string(e.EventType),
			"provider", e.Provider,
			"subject", e.Subject,
			"data", e.Data,
			"created_at", e.CreatedAt,
		),
	)
}

// Emit はイベントを生成して記録する。生成に失敗した場合は何も記録しない。
func Emit(ctx context.Context, r Recorder, eventType Type, providerName, subject string, data any) {
	if r == nil {
		return
	}
	e, err := New(eventType, providerName, subject, data)
	if err != nil {
		return
	}
	r.Record(ctx, e)
}
