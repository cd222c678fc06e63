package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/foodfusion/internal/metrics"
	"github.com/hitoshi/foodfusion/internal/middleware"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/notify"
	"github.com/hitoshi/foodfusion/internal/sms"
	"github.com/prometheus/client_golang/prometheus"
)

// HealthChecker はDBなど依存先の疎通確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	Gatherer          prometheus.Gatherer
	HealthChecker     HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 管理者向けユーザー管理
	UserService UserServiceInterface

	// カートとチェックアウト
	CartService     CartServiceInterface
	CartConfig      CartHandlerConfig
	CheckoutService CheckoutServiceInterface
	Orders          OrderLister

	// 通知
	Hub *notify.Hub

	// SMSゲートウェイ
	SMSDispatcher sms.Dispatcher
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → CORS → (Auth) → RateLimit → CSRF
//
// カート・チェックアウトはログイン任意、それ以外のユーザー向けAPIはログイン必須。
// /health、/metrics、/api/send-sms はサーバー間呼び出しのためCSRF検証の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	cartHandler := NewCartHandler(deps.CartService, deps.Hub, deps.CartConfig)
	checkoutHandler := NewCheckoutHandler(deps.CheckoutService, deps.Orders)
	notificationHandler := NewNotificationHandler(deps.Hub, deps.CORSAllowedOrigin)
	smsHandler := NewSMSHandler(deps.SMSDispatcher)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- SMSゲートウェイ ---
	r.With(deps.RateLimiter.GeneralMiddleware()).Post("/api/send-sms", smsHandler.Send)

	// --- ログイン任意のルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		authLimit := deps.RateLimiter.AuthMiddleware()
		r.With(authLimit).Post("/api/auth/register", authHandler.Register)
		r.With(authLimit).Post("/api/auth/login", authHandler.Login)

		r.Route("/api/cart", func(r chi.Router) {
			r.Get("/", cartHandler.Get)
			r.Put("/", cartHandler.Replace)
			r.Delete("/", cartHandler.Clear)
			r.Post("/items", cartHandler.AddItem)
			r.Patch("/items/{itemId}", cartHandler.UpdateQuantity)
			r.Delete("/items/{itemId}", cartHandler.RemoveItem)
		})

		r.Post("/api/checkout", checkoutHandler.Checkout)
		r.Get("/api/checkout/status", checkoutHandler.Status)
	})

	// --- ログイン必須のルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/me", authHandler.Me)

		r.With(middleware.RequireRole(model.RoleCustomer)).Get("/api/orders", checkoutHandler.ListOrders)

		r.Get("/api/notifications", notificationHandler.List)
		r.Get("/api/notifications/ws", notificationHandler.Stream)

		r.Route("/api/admin/users", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))
			r.Get("/", userHandler.ListUsers)
			r.Patch("/{id}", userHandler.UpdateStatus)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
