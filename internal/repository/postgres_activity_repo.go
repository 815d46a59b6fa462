package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/shopadmin/internal/model"
)

// PostgresActivityRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// Create は監査ログを1件追記する。
func (r *PostgresActivityRepo) Create(ctx context.Context, record *model.ActivityRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_logs (id, user_id, user_email, action, details, ip_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.UserID, record.UserEmail, record.Action,
		record.Details, record.IPAddress, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// ListRecent は新しい順に最大limit件の監査ログを返す。
func (r *PostgresActivityRepo) ListRecent(ctx context.Context, limit int) ([]*model.ActivityRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, user_email, action, details, ip_address, created_at
		 FROM activity_logs
		 ORDER BY created_at DESC, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity logs: %w", err)
	}
	defer rows.Close()

	var records []*model.ActivityRecord
	for rows.Next() {
		rec := &model.ActivityRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.UserEmail, &rec.Action,
			&rec.Details, &rec.IPAddress, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity logs: %w", err)
	}

	return records, nil
}

// compile-time interface check
var _ ActivityRepository = (*PostgresActivityRepo)(nil)
