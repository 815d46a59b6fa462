// Package auth は外部IdPによる本人確認、セッショントークンの発行・検証、管理者判定を提供する。
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shopadmin/internal/model"
	"github.com/hitoshi/shopadmin/internal/repository"
)

// 開発者ログインで発行される固定Identityの値。
const (
	DevUserID   = "dev-user"
	DevUserName = "Developer"
)

// userIDNamespace はDB障害時のフォールバックIDを導出するための名前空間。
var userIDNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://shopadmin/users"))

// ProviderProfile はIdPから取得したユーザー情報を表す。
type ProviderProfile struct {
	Subject  string
	Email    string
	Name     string
	Provider string // "entra" 等
}

// IdentityProvider は外部IdPのインターフェース。
type IdentityProvider interface {
	// AuthCodeURL は認可エンドポイントへのリダイレクトURLを生成する。
	AuthCodeURL(state string) string
	// ExchangeCode は認可コードを交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*ProviderProfile, error)
}

// ExchangeMetrics はIdP呼び出しのメトリクスを記録する。
type ExchangeMetrics interface {
	ObserveIdentityExchange(duration time.Duration, success bool)
}

type noopExchangeMetrics struct{}

func (noopExchangeMetrics) ObserveIdentityExchange(time.Duration, bool) {}

// CallbackParams はOAuthコールバックのクエリパラメータ。
type CallbackParams struct {
	Code             string
	Error            string
	ErrorDescription string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	DevLoginEnabled bool
	DevLoginSecret  string
	DevLoginEmail   string
}

// Service は本人確認に関するビジネスロジックを提供する。
type Service struct {
	provider IdentityProvider
	userRepo repository.UserRepository
	metrics  ExchangeMetrics
	config   ServiceConfig
}

// NewService はServiceを生成する。metricsがnilの場合は記録しない。
func NewService(
	provider IdentityProvider,
	userRepo repository.UserRepository,
	metrics ExchangeMetrics,
	config ServiceConfig,
) *Service {
	if metrics == nil {
		metrics = noopExchangeMetrics{}
	}
	return &Service{
		provider: provider,
		userRepo: userRepo,
		metrics:  metrics,
		config:   config,
	}
}

// AuthCodeURL はIdPの認可URLを生成する。
func (s *Service) AuthCodeURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

// DevLoginEnabled は開発者ログインが有効かを返す。
func (s *Service) DevLoginEnabled() bool {
	return s.config.DevLoginEnabled
}

// HandleCallback はOAuthコールバックを処理し、検証済みのIdentityを返す。
// ユーザーはemailをキーにUPSERTする。永続化に失敗してもログインは継続し、
// emailから導出したフォールバックIDでIdentityを構築する。
func (s *Service) HandleCallback(ctx context.Context, params CallbackParams) (*model.Identity, error) {
	// 1. IdPがエラーを返した場合
	if params.Error != "" {
		detail := params.ErrorDescription
		if detail == "" {
			detail = params.Error
		}
		slog.Warn("identity provider returned an error",
			slog.String("error", params.Error),
			slog.String("error_description", params.ErrorDescription),
		)
		return nil, newAuthError(ErrOAuthRejected, detail, nil)
	}

	// 2. 認可コードの存在確認
	if params.Code == "" {
		return nil, newAuthError(ErrMissingAuthorizationCode, "", nil)
	}

	// 3. 認可コードを交換し、プロフィールを取得
	start := time.Now()
	profile, err := s.provider.ExchangeCode(ctx, params.Code)
	s.metrics.ObserveIdentityExchange(time.Since(start), err == nil)
	if err != nil {
		slog.Error("identity exchange failed", slog.String("error", err.Error()))
		return nil, newAuthError(ErrIdentityExchangeFailed, "", err)
	}
	if profile == nil || profile.Email == "" {
		slog.Error("identity provider profile has no email")
		return nil, newAuthError(ErrIdentityExchangeFailed, "", nil)
	}

	// 4. ユーザーをUPSERT
	return s.upsertUser(ctx, profile), nil
}

// upsertUser はユーザーを永続化し、Identityを返す。
// 永続化エラーはログに残して握りつぶす。
func (s *Service) upsertUser(ctx context.Context, profile *ProviderProfile) *model.Identity {
	name := profile.Name
	if name == "" {
		name = profile.Email
	}
	fallback := &model.Identity{
		ID:    FallbackUserID(profile.Email),
		Name:  name,
		Email: profile.Email,
	}

	if s.userRepo == nil {
		return fallback
	}

	now := time.Now()
	saved, err := s.userRepo.UpsertByEmail(ctx, &model.User{
		ID:          fallback.ID,
		Email:       profile.Email,
		Name:        name,
		LastLoginAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil || saved == nil {
		attrs := []any{slog.String("email", profile.Email)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		slog.Warn("failed to upsert user, continuing with provider identity", attrs...)
		return fallback
	}

	slog.Info("user logged in",
		slog.String("user_id", saved.ID),
		slog.String("provider", profile.Provider),
	)
	return &model.Identity{ID: saved.ID, Name: saved.Name, Email: saved.Email}
}

// DevLogin は開発者用の共有シークレットを検証し、固定のIdentityを返す。
// 無効化されている場合はErrDevLoginDisabled、シークレット不一致または未設定の場合は
// ErrInvalidDeveloperCredentialを返す。どちらの確認で失敗したかは区別しない。
func (s *Service) DevLogin(_ context.Context, secret string) (*model.Identity, error) {
	if !s.config.DevLoginEnabled {
		return nil, newAuthError(ErrDevLoginDisabled, "", nil)
	}
	if !secretsEqual(secret, s.config.DevLoginSecret) {
		slog.Warn("developer login rejected")
		return nil, newAuthError(ErrInvalidDeveloperCredential, "", nil)
	}

	return &model.Identity{
		ID:    DevUserID,
		Name:  DevUserName,
		Email: s.config.DevLoginEmail,
	}, nil
}

// FallbackUserID はemailから決定的に導出したユーザーIDを返す。
// 大文字小文字の違いは同一ユーザーとして扱う。
func FallbackUserID(email string) string {
	return uuid.NewSHA1(userIDNamespace, []byte(normalizeEmail(email))).String()
}

// secretsEqual は長さに依存しない定数時間比較を行う。設定値が空なら常に不一致。
func secretsEqual(given, configured string) bool {
	if configured == "" {
		return false
	}
	a := sha256.Sum256([]byte(given))
	b := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
