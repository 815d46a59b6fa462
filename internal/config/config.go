package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth (Microsoft Entra ID)
	AzureClientID     string
	AzureClientSecret string
	AzureTenantID     string
	AzureRedirectURI  string
	OAuthTimeout      time.Duration

	// Session
	SessionSecret string

	// Admin
	AdminEmail  string
	AdminEmails []string

	// Developer login
	EnableDevLogin bool
	DevLoginSecret string
	DevLoginEmail  string

	// Audit
	AuditQueueSize int

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// Server
	ServerPort  string
	Environment string

	// TrustedProxies はX-Forwarded-Forを信頼する接続元（CIDRまたはアドレス）。
	// 空の場合はヘッダーを一切信頼しない。
	TrustedProxies []string

	// Cookie
	CookieSecure bool
}

// IsProduction は本番環境で動作しているかを返す。
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// SESSION_SECRETの欠落もここで検出し、起動時の致命的エラーとして扱う。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AzureClientID = os.Getenv("AZURE_CLIENT_ID")
	if cfg.AzureClientID == "" {
		missing = append(missing, "AZURE_CLIENT_ID")
	}

	cfg.AzureClientSecret = os.Getenv("AZURE_CLIENT_SECRET")
	if cfg.AzureClientSecret == "" {
		missing = append(missing, "AZURE_CLIENT_SECRET")
	}

	cfg.AzureTenantID = os.Getenv("AZURE_TENANT_ID")
	if cfg.AzureTenantID == "" {
		missing = append(missing, "AZURE_TENANT_ID")
	}

	cfg.AzureRedirectURI = os.Getenv("AZURE_REDIRECT_URI")
	if cfg.AzureRedirectURI == "" {
		missing = append(missing, "AZURE_REDIRECT_URI")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.OAuthTimeout = getEnvDuration("OAUTH_TIMEOUT", 10*time.Second)
	cfg.AdminEmail = strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	cfg.AdminEmails = getEnvList("ADMIN_EMAILS")
	cfg.EnableDevLogin = getEnvBool("ENABLE_DEV_LOGIN", false)
	cfg.DevLoginSecret = os.Getenv("DEV_LOGIN_SECRET")
	cfg.DevLoginEmail = getEnvString("DEV_LOGIN_EMAIL", "dev@localhost")
	cfg.AuditQueueSize = getEnvInt("AUDIT_QUEUE_SIZE", 256)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.Environment = getEnvString("APP_ENV", "development")
	cfg.TrustedProxies = getEnvList("TRUSTED_PROXY_CIDRS")
	cfg.CookieSecure = cfg.IsProduction()

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
