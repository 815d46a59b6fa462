// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/hitoshi/shopadmin/internal/activity"
	"github.com/hitoshi/shopadmin/internal/auth"
	"github.com/hitoshi/shopadmin/internal/model"
)

// LoginErrorPath はセッションが無効な場合のリダイレクト先。
const LoginErrorPath = "/?error=" + auth.CodeInvalidSession

//go:embed forbidden.html
var forbiddenPage []byte

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityContextKey = contextKey("identity")
	tierContextKey     = contextKey("tier")
)

// SessionVerifier はセッショントークンの検証に必要なインターフェース。
// auth.SessionIssuerが満たす。
type SessionVerifier interface {
	Verify(token string) (*model.Identity, error)
}

// AdminChecker は管理者判定のインターフェース。auth.AdminPolicyが満たす。
type AdminChecker interface {
	IsAdmin(email string) bool
}

// ActivityRecorder は監査ログ記録のインターフェース。activity.Recorderが満たす。
type ActivityRecorder interface {
	Record(ctx context.Context, entry activity.Entry)
}

// GuardMetrics はアクセス制御のメトリクス。
type GuardMetrics interface {
	RecordSessionRejected()
	RecordAdminDenied()
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, activity.Entry) {}

type noopGuardMetrics struct{}

func (noopGuardMetrics) RecordSessionRejected() {}
func (noopGuardMetrics) RecordAdminDenied()     {}

// GuardConfig はGuardの設定。
type GuardConfig struct {
	CookieSecure bool
}

// Guard はリクエストごとにセッションCookieを検証し、認可レベルを判定する。
type Guard struct {
	verifier SessionVerifier
	policy   AdminChecker
	recorder ActivityRecorder
	metrics  GuardMetrics
	config   GuardConfig
}

// NewGuard はGuardを生成する。recorderとmetricsはnilでもよい。
func NewGuard(
	verifier SessionVerifier,
	policy AdminChecker,
	recorder ActivityRecorder,
	metrics GuardMetrics,
	config GuardConfig,
) *Guard {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if metrics == nil {
		metrics = noopGuardMetrics{}
	}
	return &Guard{
		verifier: verifier,
		policy:   policy,
		recorder: recorder,
		metrics:  metrics,
		config:   config,
	}
}

// RequireAuth は有効なセッションを要求するミドルウェア。
// Cookieがない、または検証に失敗した場合はログイン画面へリダイレクトする。
// 成功時はIdentityと認可レベルをコンテキストに注入し、PAGE_ACCESSを記録する。
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			http.Redirect(w, r, LoginErrorPath, http.StatusFound)
			return
		}

		identity, err := g.verifier.Verify(cookie.Value)
		if err != nil {
			g.metrics.RecordSessionRejected()
			slog.Info("session rejected",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			ClearSessionCookie(w, g.config.CookieSecure)
			http.Redirect(w, r, LoginErrorPath, http.StatusFound)
			return
		}

		tier := auth.TierAuthenticated
		if g.policy != nil && g.policy.IsAdmin(identity.Email) {
			tier = auth.TierAdministrator
		}

		ctx := ContextWithIdentity(r.Context(), identity)
		ctx = context.WithValue(ctx, tierContextKey, tier)
		annotateRequestLog(ctx, identity.ID)

		g.recorder.Record(ctx, activity.Entry{
			UserID:    identity.ID,
			UserEmail: identity.Email,
			Action:    model.ActionPageAccess,
			Details:   map[string]any{"method": r.Method, "path": r.URL.Path},
			IPAddress: activity.ClientIP(r),
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin は管理者を要求するミドルウェア。
// 先にRequireAuthと同じ認証を行い、失敗した場合は管理者判定を行わない。
// 管理者でなければADMIN_ACCESS_DENIEDを記録して403を返す（ログイン画面へはリダイレクトしない）。
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return g.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		entry := activity.Entry{
			UserID:    identity.ID,
			UserEmail: identity.Email,
			IPAddress: activity.ClientIP(r),
		}

		if TierFromContext(r.Context()) != auth.TierAdministrator {
			g.metrics.RecordAdminDenied()
			slog.Warn("admin access denied",
				slog.String("user_id", identity.ID),
				slog.String("path", r.URL.Path),
				slog.String("error", auth.ErrInsufficientPermissions.Error()),
			)
			entry.Action = model.ActionAdminAccessDenied
			entry.Details = map[string]any{"reason": "insufficient_permissions", "path": r.URL.Path}
			g.recorder.Record(r.Context(), entry)

			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			w.Write(forbiddenPage)
			return
		}

		entry.Action = model.ActionAdminAccess
		entry.Details = map[string]any{"path": r.URL.Path}
		g.recorder.Record(r.Context(), entry)

		next.ServeHTTP(w, r)
	}))
}

// IdentityFromContext はリクエストコンテキストから認証済みIdentityを取得する。
// RequireAuthを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil {
		return &model.Identity{}, false
	}
	return identity, true
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// TierFromContext はリクエストの認可レベルを返す。未認証の場合は空文字列。
func TierFromContext(ctx context.Context) auth.Tier {
	tier, _ := ctx.Value(tierContextKey).(auth.Tier)
	return tier
}
