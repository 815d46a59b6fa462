package auth

import "strings"

// Tier はリクエストごとに算出される認可レベル。
type Tier string

const (
	// TierAuthenticated は有効なセッションを持つユーザー。
	TierAuthenticated Tier = "authenticated"
	// TierAdministrator は管理者として許可されたユーザー。
	TierAdministrator Tier = "administrator"
)

// AdminPolicy はemailから管理者かどうかを判定する。
// 許可リスト（ADMIN_EMAILS）と個別指定（ADMIN_EMAIL）の和集合に、
// 大文字小文字を区別せず完全一致したemailのみを管理者とみなす。
type AdminPolicy struct {
	emails map[string]struct{}
}

// NewAdminPolicy はAdminPolicyを生成する。空要素は無視する。
func NewAdminPolicy(overrideEmail string, allowList []string) *AdminPolicy {
	p := &AdminPolicy{emails: make(map[string]struct{}, len(allowList)+1)}
	for _, email := range append([]string{overrideEmail}, allowList...) {
		if key := normalizeEmail(email); key != "" {
			p.emails[key] = struct{}{}
		}
	}
	return p
}

// IsAdmin はemailが管理者として許可されているかを返す。
func (p *AdminPolicy) IsAdmin(email string) bool {
	if p == nil {
		return false
	}
	key := normalizeEmail(email)
	if key == "" {
		return false
	}
	_, ok := p.emails[key]
	return ok
}

// TierFor はemailに対応する認可レベルを返す。
func (p *AdminPolicy) TierFor(email string) Tier {
	if p.IsAdmin(email) {
		return TierAdministrator
	}
	return TierAuthenticated
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
