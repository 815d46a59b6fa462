package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/shopadmin/internal/model"
)

// SessionLifetime はセッショントークンの有効期間。
const SessionLifetime = 24 * time.Hour

const sessionTokenIssuer = "shopadmin"

// SessionClaims はセッショントークンに埋め込むクレーム。
// SubjectにユーザーIDを格納する。
type SessionClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionIssuer はHS256で署名されたセッショントークンを発行・検証する。
// サーバー側にセッション状態は持たず、署名と有効期限のみで真正性を判断する。
type SessionIssuer struct {
	secret []byte
	now    func() time.Time
}

// SessionOption はSessionIssuerのオプション。
type SessionOption func(*SessionIssuer)

// WithClock は現在時刻の取得関数を差し替える（テスト用）。
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionIssuer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSessionIssuer はSessionIssuerを生成する。
// 署名鍵が空の場合はErrSigningKeyMissingを返す。起動時の致命的エラーとして扱うこと。
func NewSessionIssuer(secret string, opts ...SessionOption) (*SessionIssuer, error) {
	if secret == "" {
		return nil, ErrSigningKeyMissing
	}
	s := &SessionIssuer{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue はIdentityを埋め込んだセッショントークンを発行し、有効期限とともに返す。
func (s *SessionIssuer) Issue(identity *model.Identity) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrSigningKeyMissing
	}

	now := s.now()
	claims := SessionClaims{
		Name:  identity.Name,
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    sessionTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionLifetime)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// Verify はトークンの署名と有効期限を検証し、埋め込まれたIdentityを返す。
// 失敗理由（署名不一致、形式不正、期限切れ、アルゴリズム不一致）は区別せず、
// すべてErrInvalidOrExpiredSessionを返す。
func (s *SessionIssuer) Verify(token string) (*model.Identity, error) {
	if token == "" || len(s.secret) == 0 {
		return nil, ErrInvalidOrExpiredSession
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(sessionTokenIssuer),
		jwt.WithTimeFunc(s.now),
	)

	claims := &SessionClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidOrExpiredSession
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, ErrInvalidOrExpiredSession
	}

	return &model.Identity{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
	}, nil
}
