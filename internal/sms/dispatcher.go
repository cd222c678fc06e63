package sms

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/foodfusion/internal/model"
)

// MaxBodyLength は本文の最大文字数（連結SMS10通分）。
const MaxBodyLength = 1600

var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)

// Dispatcher はゲートウェイ側で実際にSMSを送出するインターフェース。
// 外部プロバイダの実装は差し替え可能。
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// LogDispatcher は送出内容を構造化ログに記録するだけのDispatcher。
// 開発環境とテストで使う。
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher はLogDispatcherを生成する。
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch は送出内容をログに記録する。
func (d *LogDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Info("SMSを送出しました",
		slog.String("to", maskNumber(msg.To)),
		slog.Int("body_length", utf8.RuneCountInString(msg.Body)),
	)
	return nil
}

// Validate は送信要求を検証し、正規化した要求を返す。
func Validate(msg Message) (Message, error) {
	msg.To = strings.ReplaceAll(strings.TrimSpace(msg.To), " ", "")
	msg.Body = strings.TrimSpace(msg.Body)

	switch {
	case msg.To == "":
		return msg, model.NewValidationError("to is required")
	case !phonePattern.MatchString(msg.To):
		return msg, model.NewValidationError("to must be a phone number")
	case msg.Body == "":
		return msg, model.NewValidationError("body is required")
	case utf8.RuneCountInString(msg.Body) > MaxBodyLength:
		return msg, model.NewValidationError("body is too long")
	}
	return msg, nil
}

var _ Dispatcher = (*LogDispatcher)(nil)
