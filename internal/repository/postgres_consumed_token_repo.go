package repository

import (
	"context"
	"database/sql"
	"time"
)

// PostgresConsumedTokenRepo は使用済みトークンをconsumed_tokensテーブルに記録する。
type PostgresConsumedTokenRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresConsumedTokenRepo はPostgresConsumedTokenRepoを生成する。
func NewPostgresConsumedTokenRepo(db *sql.DB, timeout time.Duration) *PostgresConsumedTokenRepo {
	return &PostgresConsumedTokenRepo{db: db, timeout: timeout}
}

// MarkConsumed はjtiを記録する。主キー衝突時は挿入されずfalseを返す。
func (r *PostgresConsumedTokenRepo) MarkConsumed(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO consumed_tokens (jti, expires_at) VALUES ($1, $2)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt,
	)
	if err != nil {
		return false, wrapStoreError(ctx, "failed to mark token consumed", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, wrapStoreError(ctx, "failed to get rows affected", err)
	}
	return n == 1, nil
}

// PurgeExpired は有効期限を過ぎた記録を削除し、削除件数を返す。
func (r *PostgresConsumedTokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `DELETE FROM consumed_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, wrapStoreError(ctx, "failed to purge consumed tokens", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, wrapStoreError(ctx, "failed to get rows affected", err)
	}
	return n, nil
}

var (
	_ ConsumedTokenStore  = (*PostgresConsumedTokenRepo)(nil)
	_ ConsumedTokenPurger = (*PostgresConsumedTokenRepo)(nil)
)
