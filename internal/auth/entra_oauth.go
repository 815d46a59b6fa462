package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultEntraAuthority  = "https://login.microsoftonline.com"
	defaultGraphProfileURL = "https://graph.microsoft.com/v1.0/me"

	defaultProviderTimeout = 10 * time.Second
	defaultRetryDelay      = 200 * time.Millisecond

	// maxProviderResponseSize はIdPレスポンスとして読み込む最大バイト数。
	maxProviderResponseSize = 1 << 20
)

// EntraOAuthConfig はMicrosoft Entra ID（Azure AD）OAuthプロバイダーの設定。
type EntraOAuthConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURL  string

	// HTTPClient は外部呼び出しに使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
	// Timeout は1回の呼び出しあたりのタイムアウト。
	Timeout time.Duration
	// RetryDelay は一時的な失敗後、再試行するまでの待機時間。
	RetryDelay time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// EntraOAuthProvider はMicrosoft identity platformのOAuth 2.0認可コードフローによる認証を提供する。
type EntraOAuthProvider struct {
	config EntraOAuthConfig
}

// NewEntraOAuthProvider はEntraOAuthProviderを生成する。
func NewEntraOAuthProvider(config EntraOAuthConfig) *EntraOAuthProvider {
	tenantBase := defaultEntraAuthority + "/" + url.PathEscape(config.TenantID) + "/oauth2/v2.0"
	if config.AuthURL == "" {
		config.AuthURL = tenantBase + "/authorize"
	}
	if config.TokenURL == "" {
		config.TokenURL = tenantBase + "/token"
	}
	if config.ProfileURL == "" {
		config.ProfileURL = defaultGraphProfileURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultProviderTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}
	return &EntraOAuthProvider{config: config}
}

// Endpoints は設定済みの認可・トークン・プロフィールエンドポイントを返す。起動時の検証に使う。
func (p *EntraOAuthProvider) Endpoints() []string {
	return []string{p.config.AuthURL, p.config.TokenURL, p.config.ProfileURL}
}

// AuthCodeURL はMicrosoftの認可エンドポイントURLを生成する。
// スコープにはopenid, profile, email, User.Readを含む。
func (p *EntraOAuthProvider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"response_mode": {"query"},
		"scope":         {"openid profile email User.Read"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// entraTokenResponse はトークンエンドポイントのレスポンス。
type entraTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// graphProfile はMicrosoft Graph /me のレスポンス。
type graphProfile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、プロフィールを取得する。
// 2回の往復はそれぞれタイムアウト付きで実行され、一時的な失敗は1回だけ再試行する。
func (p *EntraOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ProviderProfile, error) {
	// 1. 認可コードをアクセストークンに交換
	tokenResp, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	// 2. アクセストークンでプロフィールを取得
	profile, err := p.fetchProfile(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	email := profile.Mail
	if email == "" {
		email = profile.UserPrincipalName
	}

	return &ProviderProfile{
		Subject:  profile.ID,
		Email:    strings.TrimSpace(email),
		Name:     strings.TrimSpace(profile.DisplayName),
		Provider: "entra",
	}, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *EntraOAuthProvider) exchangeToken(ctx context.Context, code string) (*entraTokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}
	encoded := data.Encode()

	body, err := p.doWithRetry(ctx, "token", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var tokenResp entraTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

// fetchProfile はアクセストークンでMicrosoft Graphのプロフィールを取得する。
func (p *EntraOAuthProvider) fetchProfile(ctx context.Context, accessToken string) (*graphProfile, error) {
	body, err := p.doWithRetry(ctx, "profile", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.ProfileURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var profile graphProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}

	if profile.ID == "" {
		return nil, fmt.Errorf("empty id in profile response")
	}

	return &profile, nil
}

// statusError は2xx以外のレスポンスを表す。
type statusError struct {
	step       string
	statusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s request failed with status %d", e.step, e.statusCode)
}

// transient は再試行する価値のあるステータスかを返す。
func (e *statusError) transient() bool {
	return e.statusCode == http.StatusTooManyRequests || e.statusCode >= 500
}

// doWithRetry はリクエストを実行し、200のレスポンスボディを返す。
// 通信エラー、タイムアウト、429/5xxは一時的な失敗として1回だけ再試行する。
// リクエストボディを再送できるよう、試行ごとにnewRequestでリクエストを組み立て直す。
func (p *EntraOAuthProvider) doWithRetry(
	ctx context.Context,
	step string,
	newRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s request aborted: %w", step, ctx.Err())
			case <-time.After(p.config.RetryDelay):
			}
		}

		body, err := p.doOnce(ctx, step, newRequest)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && !se.transient() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%s request failed after %d attempts: %w", step, maxAttempts, lastErr)
}

func (p *EntraOAuthProvider) doOnce(
	ctx context.Context,
	step string,
	newRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := newRequest(attemptCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", step, err)
	}

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", step, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", step, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{step: step, statusCode: resp.StatusCode}
	}

	return body, nil
}

// compile-time interface check
var _ IdentityProvider = (*EntraOAuthProvider)(nil)
