// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/shopadmin/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// UpsertByEmail はemail（大文字小文字を区別しない）をキーにユーザーをUPSERTする。
	// 未登録なら作成し、登録済みなら表示名と最終ログイン日時を更新する。
	// 永続化後のレコードを返す。
	UpsertByEmail(ctx context.Context, user *model.User) (*model.User, error)
}

// ActivityRepository は監査ログの永続化インターフェース。
// 追記と参照のみを提供し、更新・削除は行わない。
type ActivityRepository interface {
	// Create は監査ログを1件追記する。
	Create(ctx context.Context, record *model.ActivityRecord) error

	// ListRecent は新しい順に最大limit件の監査ログを返す。
	ListRecent(ctx context.Context, limit int) ([]*model.ActivityRecord, error)
}
