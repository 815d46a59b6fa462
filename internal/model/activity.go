package model

import "time"

// 監査ログのアクション種別。
// ORDER_FULFILL、PRODUCT_CREATE 等のドメインアクションは各ハンドラーが任意の文字列で指定する。
const (
	ActionLogin             = "LOGIN"
	ActionLoginFailed       = "LOGIN_FAILED"
	ActionLogout            = "LOGOUT"
	ActionPageAccess        = "PAGE_ACCESS"
	ActionAdminAccess       = "ADMIN_ACCESS"
	ActionAdminAccessDenied = "ADMIN_ACCESS_DENIED"
)

// ActivityRecord は追記専用の監査ログエントリを表す。
// Details はJSON文字列として保存する。
type ActivityRecord struct {
	ID        string
	UserID    string
	UserEmail string
	Action    string
	Details   string
	IPAddress string
	Timestamp time.Time
}
