package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/shopadmin/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// UpsertByEmail はemailをキーにユーザーをUPSERTする。
// 既存ユーザーのIDとcreated_atは維持され、name、last_login_at、updated_atのみ更新される。
func (r *PostgresUserRepo) UpsertByEmail(ctx context.Context, user *model.User) (*model.User, error) {
	if strings.TrimSpace(user.Email) == "" {
		return nil, fmt.Errorf("email is required")
	}

	saved := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, name, last_login_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4, $4)
		 ON CONFLICT ((lower(email))) DO UPDATE
		   SET name = EXCLUDED.name,
		       last_login_at = EXCLUDED.last_login_at,
		       updated_at = EXCLUDED.updated_at
		 RETURNING id, email, name, last_login_at, created_at, updated_at`,
		user.ID, user.Email, user.Name, user.LastLoginAt,
	).Scan(&saved.ID, &saved.Email, &saved.Name, &saved.LastLoginAt, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return saved, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
