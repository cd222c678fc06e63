package notify

import (
	"sync"

	"github.com/hitoshi/foodfusion/internal/model"
)

// Hub はユーザーごとのBroadcasterを管理する。
// ログインからログアウトまでを1つのアプリケーションセッションとみなす。
type Hub struct {
	cfg Config

	mu           sync.Mutex
	broadcasters map[string]*Broadcaster
}

// NewHub はHubを生成する。cfgは各Broadcasterに引き継がれる。
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg:          cfg,
		broadcasters: make(map[string]*Broadcaster),
	}
}

// For は指定ユーザーのBroadcasterを返す。存在しない場合は生成する。
func (h *Hub) For(userID string) *Broadcaster {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.broadcasters[userID]
	if !ok {
		b = NewBroadcaster(h.cfg)
		h.broadcasters[userID] = b
	}
	return b
}

// Lookup は既存のBroadcasterを返す。生成はしない。
func (h *Hub) Lookup(userID string) (*Broadcaster, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.broadcasters[userID]
	return b, ok
}

// Close は指定ユーザーのBroadcasterを閉じて破棄する。
// 閉じた後に発火した遅延通知は配信されない。
func (h *Hub) Close(userID string) {
	h.mu.Lock()
	b, ok := h.broadcasters[userID]
	delete(h.broadcasters, userID)
	h.mu.Unlock()

	if ok {
		b.Close()
	}
}

// CloseAll は全Broadcasterを閉じる。シャットダウン時に使用する。
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.broadcasters
	h.broadcasters = make(map[string]*Broadcaster)
	h.mu.Unlock()

	for _, b := range all {
		b.Close()
	}
}

// Toast は指定ユーザーのBroadcasterにトーストを送る。
// Broadcasterがまだない場合は生成する。
func (h *Hub) Toast(userID, message string, severity model.Severity) bool {
	return h.For(userID).ShowToast(message, severity)
}
