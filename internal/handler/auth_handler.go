// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/shopadmin/internal/activity"
	"github.com/hitoshi/shopadmin/internal/auth"
	"github.com/hitoshi/shopadmin/internal/metrics"
	"github.com/hitoshi/shopadmin/internal/middleware"
	"github.com/hitoshi/shopadmin/internal/model"
	"github.com/hitoshi/shopadmin/internal/security"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分

	loginMethodOAuth = "oauth"
	loginMethodDev   = "dev"

	dashboardPath = "/dashboard"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	AuthCodeURL(state string) string
	HandleCallback(ctx context.Context, params auth.CallbackParams) (*model.Identity, error)
	DevLogin(ctx context.Context, secret string) (*model.Identity, error)
	DevLoginEnabled() bool
}

// SessionManager はセッショントークンの発行と検証を行う。
type SessionManager interface {
	Issue(identity *model.Identity) (string, time.Time, error)
	Verify(token string) (*model.Identity, error)
}

// LoginMetrics はログイン試行の結果を集計する。
type LoginMetrics interface {
	RecordLogin(method, result string)
}

type noopLoginMetrics struct{}

func (noopLoginMetrics) RecordLogin(string, string) {}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, activity.Entry) {}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はログイン画面、OAuthフロー、開発者ログイン、ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	sessions  SessionManager
	recorder  middleware.ActivityRecorder
	metrics   LoginMetrics
	sanitizer security.TextSanitizerService
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorder、metrics、sanitizerはnilでもよい。
func NewAuthHandler(
	service AuthServiceInterface,
	sessions SessionManager,
	recorder middleware.ActivityRecorder,
	loginMetrics LoginMetrics,
	sanitizer security.TextSanitizerService,
	config AuthHandlerConfig,
) *AuthHandler {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if loginMetrics == nil {
		loginMetrics = noopLoginMetrics{}
	}
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer(security.DefaultMaxTextLength)
	}
	return &AuthHandler{
		service:   service,
		sessions:  sessions,
		recorder:  recorder,
		metrics:   loginMetrics,
		sanitizer: sanitizer,
		config:    config,
	}
}

type loginPageData struct {
	pageData
	ErrorMessage    string
	Details         string
	DevLoginEnabled bool
}

// loginErrorMessages はリダイレクトのエラーコードと画面表示メッセージの対応。
var loginErrorMessages = map[string]string{
	auth.CodeOAuthError:         "認証プロバイダーがログインを拒否しました。",
	auth.CodeMissingCode:        "認可コードがありません。もう一度ログインしてください。",
	auth.CodeInvalidState:       "ログイン要求が無効か期限切れです。もう一度ログインしてください。",
	auth.CodeAuthFailed:         "認証に失敗しました。しばらく待ってから再度お試しください。",
	auth.CodeInvalidCredentials: "開発者ログインの認証情報が正しくありません。",
	auth.CodeInvalidSession:     "セッションが無効か期限切れです。再度ログインしてください。",
}

// LoginPage はログイン画面を表示する。
// GET /?error=xxx&details=yyy
// detailsは誰でも細工できるため、表示前に必ず無害化する。
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	data := loginPageData{DevLoginEnabled: h.service.DevLoginEnabled()}

	if code := r.URL.Query().Get("error"); code != "" {
		msg, ok := loginErrorMessages[code]
		if !ok {
			msg = "ログインに失敗しました。"
		}
		data.ErrorMessage = msg
		data.Details = h.sanitizer.Sanitize(r.URL.Query().Get("details"))
	}

	renderPage(w, http.StatusOK, pageLogin, data)
}

// Login はOAuthフローを開始する。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setStateCookie(w, state, oauthStateMaxAge)

	http.Redirect(w, r, h.service.AuthCodeURL(state), http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
// GET /auth/callback?error=xxx&error_description=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := auth.CallbackParams{
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	// stateクッキーは結果にかかわらず使い捨て
	stateCookie, cookieErr := r.Cookie(oauthStateCookie)
	h.setStateCookie(w, "", -1)

	var (
		identity *model.Identity
		err      error
	)
	// IdPエラーと認可コード欠落の判定を優先し、その後にstateを検証する
	if params.Error == "" && params.Code != "" && (cookieErr != nil || !stateMatches(stateCookie.Value, q.Get("state"))) {
		slog.Warn("oauth state mismatch", slog.String("ip_address", activity.ClientIP(r)))
		err = auth.ErrOAuthStateMismatch
	} else {
		identity, err = h.service.HandleCallback(r.Context(), params)
	}

	if err != nil {
		h.loginFailed(w, r, loginMethodOAuth, err)
		return
	}

	h.loginSucceeded(w, r, loginMethodOAuth, identity)
}

type devLoginPageData struct {
	pageData
}

// DevLoginForm は開発者ログインのフォームを表示する。
// GET /dev-login
// 無効化されている場合は常に403を返す。
func (h *AuthHandler) DevLoginForm(w http.ResponseWriter, r *http.Request) {
	if !h.service.DevLoginEnabled() {
		writeDevLoginDisabled(w)
		return
	}

	renderPage(w, http.StatusOK, pageDevLogin, devLoginPageData{
		pageData: pageData{CSRFToken: middleware.CSRFToken(r.Context())},
	})
}

// DevLoginSubmit は開発者ログインのシークレットを検証し、セッションを発行する。
// POST /dev-login
func (h *AuthHandler) DevLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if !h.service.DevLoginEnabled() {
		writeDevLoginDisabled(w)
		return
	}

	identity, err := h.service.DevLogin(r.Context(), r.PostFormValue("secret"))
	if errors.Is(err, auth.ErrDevLoginDisabled) {
		writeDevLoginDisabled(w)
		return
	}
	if err != nil {
		h.loginFailed(w, r, loginMethodDev, err)
		return
	}

	h.loginSucceeded(w, r, loginMethodDev, identity)
}

// Logout はセッションCookieを破棄する。
// GET /logout
// Cookieが有効でなくても必ずCookieをクリアしてログイン画面へ戻す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if identity, verifyErr := h.sessions.Verify(cookie.Value); verifyErr == nil {
			h.recorder.Record(r.Context(), activity.Entry{
				UserID:    identity.ID,
				UserEmail: identity.Email,
				Action:    model.ActionLogout,
				IPAddress: activity.ClientIP(r),
			})
		}
	}

	middleware.ClearSessionCookie(w, h.config.CookieSecure)
	http.Redirect(w, r, "/", http.StatusFound)
}

// loginSucceeded はセッションを発行してCookieに設定し、ダッシュボードへリダイレクトする。
func (h *AuthHandler) loginSucceeded(w http.ResponseWriter, r *http.Request, method string, identity *model.Identity) {
	token, expiresAt, err := h.sessions.Issue(identity)
	if err != nil {
		slog.Error("failed to issue session", slog.String("error", err.Error()))
		h.loginFailed(w, r, method, err)
		return
	}

	middleware.SetSessionCookie(w, token, expiresAt, h.config.CookieSecure)
	h.metrics.RecordLogin(method, metrics.ResultSuccess)
	h.recorder.Record(r.Context(), activity.Entry{
		UserID:    identity.ID,
		UserEmail: identity.Email,
		Action:    model.ActionLogin,
		Details:   map[string]any{"method": method},
		IPAddress: activity.ClientIP(r),
	})
	slog.Info("login succeeded",
		slog.String("user_id", identity.ID),
		slog.String("method", method),
	)

	http.Redirect(w, r, dashboardPath, http.StatusFound)
}

// loginFailed は失敗を記録し、エラーコード付きでログイン画面へリダイレクトする。
// セッションCookieは設定しない。
func (h *AuthHandler) loginFailed(w http.ResponseWriter, r *http.Request, method string, err error) {
	code := auth.RedirectCode(err)
	detail := h.sanitizer.Sanitize(auth.ErrorDetail(err))

	h.metrics.RecordLogin(method, metrics.ResultFailure)
	details := map[string]any{"method": method, "reason": code}
	if detail != "" {
		details["detail"] = detail
	}
	h.recorder.Record(r.Context(), activity.Entry{
		Action:    model.ActionLoginFailed,
		Details:   details,
		IPAddress: activity.ClientIP(r),
	})
	slog.Warn("login failed",
		slog.String("method", method),
		slog.String("reason", code),
		slog.String("error", err.Error()),
	)

	// errorを先頭に置く
	location := "/?error=" + url.QueryEscape(code)
	if detail != "" {
		location += "&details=" + url.QueryEscape(detail)
	}
	http.Redirect(w, r, location, http.StatusFound)
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeDevLoginDisabled(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
}

func stateMatches(cookieValue, queryValue string) bool {
	if cookieValue == "" || queryValue == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieValue), []byte(queryValue)) == 1
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
