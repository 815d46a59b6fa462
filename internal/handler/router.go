package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shopadmin/internal/activity"
	"github.com/hitoshi/shopadmin/internal/middleware"
	"github.com/hitoshi/shopadmin/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Guard          *middleware.Guard
	RateLimiter    *middleware.RateLimiter
	Logger         *slog.Logger
	StatusObserver middleware.StatusObserver
	CookieSecure   bool
	// ClientIP はクライアントIPの解決方法。nilの場合はRemoteAddrのみを使う。
	ClientIP       *activity.IPResolver

	// 認証
	AuthService  AuthServiceInterface
	Sessions     SessionManager
	LoginMetrics LoginMetrics
	Sanitizer    security.TextSanitizerService

	// 監査ログ
	Recorder   middleware.ActivityRecorder
	Activities ActivityLister

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → ClientIP → SecurityHeaders → Logging → (ルートごとに) Guard → RateLimit(General) → CSRF
//
// ログイン系ルートはGuardの外に配置し、IP単位のログイン用レート制限をかける。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.ClientIP != nil {
		r.Use(deps.ClientIP.Middleware)
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))

	csrfConfig := middleware.CSRFConfig{CookieSecure: deps.CookieSecure}
	csrf := middleware.NewCSRFMiddleware(csrfConfig)

	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, deps.Recorder,
		deps.LoginMetrics, deps.Sanitizer, AuthHandlerConfig{CookieSecure: deps.CookieSecure})
	dashboardHandler := NewDashboardHandler(deps.Recorder)
	adminHandler := NewAdminHandler(deps.Activities)

	// --- 認証不要のルート ---
	r.Get("/", authHandler.LoginPage)
	r.Get("/logout", authHandler.Logout)
	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	// ログイン系ルート（IP単位のレート制限）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.LoginMiddleware())

		r.Get("/auth/login", authHandler.Login)
		r.Get("/auth/callback", authHandler.Callback)

		r.With(csrf).Get("/dev-login", authHandler.DevLoginForm)
		r.With(csrf).Post("/dev-login", authHandler.DevLoginSubmit)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Guard(RequireAuth) → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(deps.Guard.RequireAuth)
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(csrf)

		r.Get("/dashboard", dashboardHandler.Dashboard)
		r.Post("/dashboard", dashboardHandler.RecordAction)
		r.Get("/api/me", dashboardHandler.Me)
	})

	// --- 管理者のみのルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.Guard.RequireAdmin)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/admin/activity", adminHandler.ActivityPage)
		r.Get("/api/admin/activity", adminHandler.ListActivity)
	})

	return r
}
