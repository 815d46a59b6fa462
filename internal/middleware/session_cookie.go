package middleware

import (
	"net/http"
	"time"

	"github.com/hitoshi/shopadmin/internal/auth"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "admin_session"

// SetSessionCookie はセッショントークンをHttpOnly Cookieに設定する。
// SecureはcookieSecure（本番環境）の場合のみ付与する。
func SetSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time, cookieSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(auth.SessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, cookieSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
