package model

import "time"

// Severity は通知の重要度を表す。
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
)

// Notification は通知ログに記録される通知を表す。
// 一度作成された通知は変更されない。
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"createdAt"`
}

// Toast は一時的に表示されるトースト通知を表す。ログには残らない。
type Toast struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}
