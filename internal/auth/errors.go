package auth

import (
	"errors"
	"fmt"
)

// 認証フローのエラー種別。
// いずれもブラウザには不透明なエラーコードとしてのみ伝え、内部詳細はログに残す。
var (
	ErrOAuthRejected              = errors.New("identity provider rejected the authorization request")
	ErrMissingAuthorizationCode   = errors.New("authorization code is missing")
	ErrOAuthStateMismatch         = errors.New("oauth state mismatch")
	ErrIdentityExchangeFailed     = errors.New("identity exchange failed")
	ErrInvalidDeveloperCredential = errors.New("invalid developer credential")
	ErrDevLoginDisabled           = errors.New("developer login is disabled")
	ErrSigningKeyMissing          = errors.New("session signing key is not configured")
	ErrInvalidOrExpiredSession    = errors.New("invalid or expired session")
	ErrInsufficientPermissions    = errors.New("insufficient permissions")
)

// リダイレクト先に付与するエラーコード。
const (
	CodeOAuthError         = "oauth_error"
	CodeMissingCode        = "missing_code"
	CodeInvalidState       = "invalid_state"
	CodeAuthFailed         = "auth_failed"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidSession     = "invalid_session"
)

// AuthError は認証エラー種別と、ユーザーに表示してよい補足情報を保持する。
// Kindは上記のセンチネルエラーのいずれか。Errは原因となった内部エラー（任意）。
type AuthError struct {
	Kind   error
	Detail string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap はerrors.Isで種別と原因の両方を辿れるようにする。
func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newAuthError(kind error, detail string, cause error) *AuthError {
	return &AuthError{Kind: kind, Detail: detail, Err: cause}
}

// RedirectCode は認証エラーをログイン画面へのリダイレクトに付与するエラーコードに変換する。
func RedirectCode(err error) string {
	switch {
	case errors.Is(err, ErrOAuthRejected):
		return CodeOAuthError
	case errors.Is(err, ErrMissingAuthorizationCode):
		return CodeMissingCode
	case errors.Is(err, ErrOAuthStateMismatch):
		return CodeInvalidState
	case errors.Is(err, ErrInvalidDeveloperCredential):
		return CodeInvalidCredentials
	case errors.Is(err, ErrInvalidOrExpiredSession):
		return CodeInvalidSession
	default:
		return CodeAuthFailed
	}
}

// ErrorDetail はエラーに付随するユーザー向けの補足情報を返す。ない場合は空文字列。
func ErrorDetail(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Detail
	}
	return ""
}
