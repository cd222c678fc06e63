package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/foodfusion/internal/auth"
	"github.com/hitoshi/foodfusion/internal/cart"
	"github.com/hitoshi/foodfusion/internal/checkout"
	"github.com/hitoshi/foodfusion/internal/config"
	"github.com/hitoshi/foodfusion/internal/database"
	"github.com/hitoshi/foodfusion/internal/handler"
	"github.com/hitoshi/foodfusion/internal/logger"
	"github.com/hitoshi/foodfusion/internal/metrics"
	"github.com/hitoshi/foodfusion/internal/middleware"
	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/notify"
	"github.com/hitoshi/foodfusion/internal/repository"
	"github.com/hitoshi/foodfusion/internal/sms"
	"github.com/hitoshi/foodfusion/internal/user"
	"github.com/hitoshi/foodfusion/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. .envで指定されたLOG_LEVELを反映する
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(logger.Setup(w, logger.ParseLevel(cfg.LogLevel)))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// openCartStore はREDIS_URLが設定されていればRedis、なければインメモリのカートストアを返す。
// 戻り値のclose関数は終了時に呼ぶ。
func openCartStore(ctx context.Context, cfg *config.Config) (repository.CartStore, func(), error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL is not set, carts are kept in memory and lost on restart")
		return repository.NewMemoryCartStore(), func() {}, nil
	}

	client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("redis connection established")
	return repository.NewRedisCartStore(client, cfg.CartTTL), func() { client.Close() }, nil
}

// newRegistry はプロセスとランタイムのメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続とカートストア
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cartStore, closeCartStore, err := openCartStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCartStore()

	// 2. リポジトリとメトリクスの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	orderRepo := repository.NewPostgresOrderRepo(db)

	reg := newRegistry()
	mc := metrics.NewCollector(reg)

	// 3. 通知とSMS
	hub := notify.NewHub(notify.Config{
		MaxEntries: cfg.NotificationMaxEntries,
		MaxAge:     cfg.NotificationMaxAge,
		OnPublish:  func(s model.Severity) { mc.RecordNotification(string(s)) },
	})
	smsClient := sms.NewClient(&http.Client{Timeout: cfg.SMSTimeout}, cfg.SMSGatewayURL, slog.Default(), mc)

	// 4. ドメインサービスの初期化
	cartService := cart.NewService(cartStore, nil, mc, slog.Default())
	orchestrator := checkout.NewOrchestrator(checkout.Deps{
		Carts:     cartService,
		SMS:       smsClient,
		Orders:    orderRepo,
		Hub:       hub,
		Directory: checkout.StaticDirectory(cfg.RestaurantNames),
		Metrics:   mc,
		Logger:    slog.Default(),
	}, checkout.Config{
		Recipient:      cfg.SMSDefaultRecipient,
		SettleDelay:    cfg.CheckoutSettleDelay,
		DriverDelay:    cfg.CheckoutDriverDelay,
		PreparingDelay: cfg.CheckoutPreparingDelay,
	})

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	authService := auth.NewService(userRepo, sessionRepo, tokens, hub)
	if _, err := authService.SeedAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("failed to seed admin account: %w", err)
	}
	userService := user.NewService(userRepo, sessionRepo, hub)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:        slog.Default(),
		Metrics:       mc,
		Gatherer:      reg,
		HealthChecker: db,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		UserService: userService,

		CartService: cartService,
		CartConfig: handler.CartHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			CookieMaxAge: cfg.CartTTL,
		},
		CheckoutService: orchestrator,
		Orders:          orderRepo,

		Hub:           hub,
		SMSDispatcher: sms.NewLogDispatcher(slog.Default()),
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 6. HTTPサーバーの起動とシャットダウン
	if err := serveUntilDone(ctx, server); err != nil {
		return err
	}

	stopped := orchestrator.Shutdown()
	hub.CloseAll()
	slog.Info("API server stopped gracefully", slog.Int("cancelled_timers", stopped))
	return nil
}

// serveUntilDone はサーバーを起動し、ctxのキャンセルまたは起動失敗まで待つ。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの定期削除を行い、/healthと/metricsを公開する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newRegistry()
	mc := metrics.NewCollector(reg)

	cleanupJob := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default(), mc)

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)
	go cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	mux := metrics.SetupMetricsRoute(reg)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := serveUntilDone(ctx, server); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
