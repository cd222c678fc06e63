// Package notify はトースト通知と通知ログの配信を提供する。
// 配信はプロセス内のpublish/subscribeであり、再起動で失われる。
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/foodfusion/internal/model"
)

// デフォルトの保持上限
const (
	DefaultMaxEntries = 50
	DefaultMaxAge     = 24 * time.Hour
)

// Config はBroadcasterの保持ポリシーと観測フックを表す。
type Config struct {
	MaxEntries int
	MaxAge     time.Duration
	// Now は時刻源。nilの場合はtime.Nowを使う。
	Now func() time.Time
	// OnPublish は通知ログへの追加ごとに呼ばれる。メトリクス計測用。
	OnPublish func(severity model.Severity)
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Broadcaster は1つのアプリケーションセッションに属する通知チャネル。
// 購読者は登録順に同期的に呼び出され、購読前の通知は再送されない。
type Broadcaster struct {
	cfg Config

	mu        sync.Mutex
	nextID    int
	log       []model.Notification
	subs      []subscriber[model.Notification]
	toastSubs []subscriber[model.Toast]
	closed    bool
}

// NewBroadcaster はBroadcasterを生成する。
func NewBroadcaster(cfg Config) *Broadcaster {
	return &Broadcaster{cfg: cfg.withDefaults()}
}

// Subscribe は以降に公開される通知を受け取るハンドラーを登録する。
// 戻り値の関数を呼ぶと購読を解除する。解除は何度呼んでもよい。
func (b *Broadcaster) Subscribe(fn func(model.Notification)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[model.Notification]{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = removeSubscriber(b.subs, id)
	}
}

// SubscribeToasts はトーストを受け取るハンドラーを登録する。
func (b *Broadcaster) SubscribeToasts(fn func(model.Toast)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.toastSubs = append(b.toastSubs, subscriber[model.Toast]{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.toastSubs = removeSubscriber(b.toastSubs, id)
	}
}

// Publish は通知をログに追加し、現在の購読者全員に配信する。
// Close済みの場合は何もせずfalseを返す。
func (b *Broadcaster) Publish(message string, severity model.Severity) (model.Notification, bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return model.Notification{}, false
	}

	n := model.Notification{
		ID:        uuid.New().String(),
		Message:   message,
		Severity:  severity,
		CreatedAt: b.cfg.Now(),
	}
	b.log = append(b.log, n)
	b.pruneLocked()

	// ハンドラーはロック外で呼ぶ。ハンドラー内からのSubscribe/Publishを許可するため。
	subs := make([]subscriber[model.Notification], len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	if b.cfg.OnPublish != nil {
		b.cfg.OnPublish(severity)
	}
	for _, s := range subs {
		s.fn(n)
	}
	return n, true
}

// ShowToast はトーストを購読者に配信する。ログには残らない。
func (b *Broadcaster) ShowToast(message string, severity model.Severity) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	subs := make([]subscriber[model.Toast], len(b.toastSubs))
	copy(subs, b.toastSubs)
	b.mu.Unlock()

	t := model.Toast{Message: message, Severity: severity}
	for _, s := range subs {
		s.fn(t)
	}
	return true
}

// List は保持中の通知を古い順に返す。
func (b *Broadcaster) List() []model.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	out := make([]model.Notification, len(b.log))
	copy(out, b.log)
	return out
}

// Close はセッション終了を表す。購読者とログを破棄し、以降の公開を無効化する。
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	b.toastSubs = nil
	b.log = nil
}

// Closed はClose済みかどうかを返す。
func (b *Broadcaster) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// pruneLocked は件数上限と保持期間を超えた通知を先頭から削除する。
func (b *Broadcaster) pruneLocked() {
	cutoff := b.cfg.Now().Add(-b.cfg.MaxAge)
	start := 0
	for start < len(b.log) && b.log[start].CreatedAt.Before(cutoff) {
		start++
	}
	if over := len(b.log) - start - b.cfg.MaxEntries; over > 0 {
		start += over
	}
	if start > 0 {
		b.log = append([]model.Notification(nil), b.log[start:]...)
	}
}

func removeSubscriber[T any](subs []subscriber[T], id int) []subscriber[T] {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
