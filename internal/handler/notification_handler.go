package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/notify"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 32
)

// Frame type values
const (
	frameToast        = "toast"
	frameNotification = "notification"
)

// notificationFrame はWebSocketで送るフレーム。
type notificationFrame struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	Message   string         `json:"message"`
	Severity  model.Severity `json:"severity"`
	CreatedAt *time.Time     `json:"createdAt,omitempty"`
}

// NotificationHandler は通知ログとリアルタイム配信のHTTPハンドラー。
type NotificationHandler struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
}

// NewNotificationHandler はNotificationHandlerを生成する。
// WebSocketのOriginはallowedOriginのみ許可する。Originヘッダーのない非ブラウザクライアントは許可する。
func NewNotificationHandler(hub *notify.Hub, allowedOrigin string) *NotificationHandler {
	return &NotificationHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// List は通知ログを古い順に返す。
// GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	items := h.hub.For(user.ID).List()
	if items == nil {
		items = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Stream はトーストと通知をWebSocketでプッシュする。
// 接続前の通知は再送しない。ログアウトで通知チャネルが閉じると接続も閉じる。
// GET /api/notifications/ws
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		slog.Warn("websocket upgrade failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	b := h.hub.For(user.ID)
	frames := make(chan notificationFrame, wsSendBuffer)
	enqueue := func(f notificationFrame) {
		select {
		case frames <- f:
		default:
			slog.Warn("websocket send buffer full, dropping frame", slog.String("user_id", user.ID))
		}
	}

	unsubscribe := b.Subscribe(func(n model.Notification) {
		createdAt := n.CreatedAt
		enqueue(notificationFrame{Type: frameNotification, ID: n.ID, Message: n.Message, Severity: n.Severity, CreatedAt: &createdAt})
	})
	defer unsubscribe()
	unsubscribeToasts := b.SubscribeToasts(func(t model.Toast) {
		enqueue(notificationFrame{Type: frameToast, Message: t.Message, Severity: t.Severity})
	})
	defer unsubscribeToasts()

	done := make(chan struct{})
	go readPump(conn, done)

	slog.Info("notification stream opened", slog.String("user_id", user.ID))
	writePump(conn, b, frames, done)
	slog.Info("notification stream closed", slog.String("user_id", user.ID))
}

// readPump はクライアントからのフレームを読み捨て、切断を検知したらdoneを閉じる。
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump はフレームを送信する。切断または通知チャネルが閉じられたら戻る。
func writePump(conn *websocket.Conn, b *notify.Broadcaster, frames <-chan notificationFrame, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case f := <-frames:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			if b.Closed() {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logged out"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
