// Package app はプロセスの起動、依存関係のワイヤリング、グレースフルシャットダウンを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/shopadmin/internal/activity"
	"github.com/hitoshi/shopadmin/internal/auth"
	"github.com/hitoshi/shopadmin/internal/config"
	"github.com/hitoshi/shopadmin/internal/database"
	"github.com/hitoshi/shopadmin/internal/handler"
	"github.com/hitoshi/shopadmin/internal/logger"
	"github.com/hitoshi/shopadmin/internal/metrics"
	"github.com/hitoshi/shopadmin/internal/middleware"
	"github.com/hitoshi/shopadmin/internal/repository"
	"github.com/hitoshi/shopadmin/internal/security"
)

// shutdownTimeout はHTTPの処理中リクエストと監査ログキューを排出する合計の猶予。
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
		slog.String("environment", cfg.Environment),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// server は起動済みの依存関係をまとめたもの。シャットダウン時の後始末に使う。
type server struct {
	httpServer *http.Server
	recorder   *activity.Recorder
	limiter    *middleware.RateLimiter
}

// buildServer はDB接続以外の全依存関係をワイヤリングし、HTTPサーバーを構築する。
// 署名鍵の欠落やIdPエンドポイントの検証失敗は起動時の致命的エラーとして返す。
func buildServer(cfg *config.Config, db handler.Pinger, userRepo repository.UserRepository, activityRepo repository.ActivityRepository) (*server, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	ipResolver, err := activity.NewIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trusted proxies: %w", err)
	}

	// 2. セッション署名
	issuer, err := auth.NewSessionIssuer(cfg.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create session issuer: %w", err)
	}

	// 3. IdP（SSRF対策済みクライアント経由）
	outbound := security.NewOutboundGuard()
	provider := auth.NewEntraOAuthProvider(auth.EntraOAuthConfig{
		ClientID:     cfg.AzureClientID,
		ClientSecret: cfg.AzureClientSecret,
		TenantID:     cfg.AzureTenantID,
		RedirectURL:  cfg.AzureRedirectURI,
		HTTPClient:   outbound.NewSafeClient(cfg.OAuthTimeout),
		Timeout:      cfg.OAuthTimeout,
	})
	for _, endpoint := range provider.Endpoints() {
		if err := outbound.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid identity provider endpoint %q: %w", endpoint, err)
		}
	}

	authService := auth.NewService(provider, userRepo, collector, auth.ServiceConfig{
		DevLoginEnabled: cfg.EnableDevLogin,
		DevLoginSecret:  cfg.DevLoginSecret,
		DevLoginEmail:   cfg.DevLoginEmail,
	})
	if cfg.EnableDevLogin {
		slog.Warn("developer login is enabled")
	}

	// 4. 監査ログ
	recorder := activity.NewRecorder(activityRepo, collector, activity.Config{
		QueueSize: cfg.AuditQueueSize,
	})

	// 5. アクセス制御
	policy := auth.NewAdminPolicy(cfg.AdminEmail, cfg.AdminEmails)
	guard := middleware.NewGuard(issuer, policy, recorder, collector, middleware.GuardConfig{
		CookieSecure: cfg.CookieSecure,
	})
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))

	// 6. ルーター
	router := handler.NewRouter(&handler.RouterDeps{
		Guard:          guard,
		RateLimiter:    limiter,
		Logger:         slog.Default(),
		StatusObserver: collector,
		CookieSecure:   cfg.CookieSecure,
		ClientIP:       ipResolver,

		AuthService:  authService,
		Sessions:     issuer,
		LoginMetrics: collector,
		Sanitizer:    security.NewTextSanitizer(security.DefaultMaxTextLength),

		Recorder:   recorder,
		Activities: activityRepo,

		DB:             db,
		MetricsHandler: metrics.Handler(registry),
	})

	return &server{
		httpServer: &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		recorder: recorder,
		limiter:  limiter,
	}, nil
}

// serve はctxがキャンセルされるまでHTTPサーバーを動かし、その後グレースフルシャットダウンする。
// 処理中のリクエストを排出してから監査ログキューを排出する。
func (s *server) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			slog.Error("server listen error", slog.String("error", serveErr.Error()))
		}
	}

	slog.Info("shutting down admin server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	s.limiter.Stop()
	if err := s.recorder.Close(shutdownCtx); err != nil {
		slog.Error("activity queue was not fully drained",
			slog.String("error", err.Error()),
			slog.Uint64("dropped", s.recorder.Dropped()),
		)
	}

	if serveErr != nil {
		return fmt.Errorf("server listen failed: %w", serveErr)
	}
	slog.Info("admin server stopped gracefully")
	return nil
}

// runServe は管理画面サーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxのキャンセル（SIGINT/SIGTERM）でグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリとサーバーの構築
	srv, err := buildServer(cfg, db,
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresActivityRepo(db),
	)
	if err != nil {
		return err
	}

	return srv.serve(ctx)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
