package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/authcore/internal/model"
)

const (
	uniqueViolation = pq.ErrorCode("23505")

	constraintUsername = "users_username_key"
	constraintEmail    = "users_email_key"
)

const userColumns = `id, username, email, full_name, hashed_password, is_active, is_admin,
	two_factor_secret, is_two_factor_enabled, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
// timeoutは各クエリの上限時間で、0以下の場合はDefaultStoreTimeoutを使う。
func NewPostgresUserRepo(db *sql.DB, timeout time.Duration) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, timeout: timeout}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return r.findOne(ctx, "failed to find user by ID", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "failed to find user by username", `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "failed to find user by email", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, op, query string, arg any) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	user := &model.User{}
	var secret sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.HashedPassword,
		&user.IsActive, &user.IsAdmin, &secret, &user.IsTwoFactorEnabled,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(ctx, op, err)
	}
	if secret.Valid {
		user.TwoFactorSecret = &secret.String
	}
	return user, nil
}

// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, full_name, hashed_password, is_active, is_admin)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		user.Username, user.Email, user.FullName, user.HashedPassword, user.IsActive, user.IsAdmin,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			switch pqErr.Constraint {
			case constraintEmail:
				return ErrDuplicateEmail
			case constraintUsername:
				return ErrDuplicateUsername
			}
		}
		return wrapStoreError(ctx, "failed to insert user", err)
	}
	return nil
}

// UpdatePassword はパスワードハッシュを上書きする。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id int64, hashedPassword string) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET hashed_password = $2, updated_at = now() WHERE id = $1`,
		id, hashedPassword,
	)
	if err != nil {
		return wrapStoreError(ctx, "failed to update password", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrapStoreError(ctx, "failed to get rows affected", err)
	}
	if n == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

// SetTwoFactorSecret は2FAが無効なユーザーにシークレットを保存する。
func (r *PostgresUserRepo) SetTwoFactorSecret(ctx context.Context, id int64, secret string) (bool, error) {
	return r.execGuarded(ctx, "failed to set two-factor secret",
		`UPDATE users SET two_factor_secret = $2, updated_at = now()
		 WHERE id = $1 AND is_two_factor_enabled = FALSE`,
		id, secret,
	)
}

// EnableTwoFactor は保存済みシークレットがsecretと一致する場合に2FAを有効化する。
func (r *PostgresUserRepo) EnableTwoFactor(ctx context.Context, id int64, secret string) (bool, error) {
	return r.execGuarded(ctx, "failed to enable two-factor",
		`UPDATE users SET is_two_factor_enabled = TRUE, updated_at = now()
		 WHERE id = $1 AND two_factor_secret = $2`,
		id, secret,
	)
}

// DisableTwoFactor は2FAを無効化し、シークレットを同一文で消去する。
func (r *PostgresUserRepo) DisableTwoFactor(ctx context.Context, id int64) error {
	_, err := r.execGuarded(ctx, "failed to disable two-factor",
		`UPDATE users SET is_two_factor_enabled = FALSE, two_factor_secret = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *PostgresUserRepo) execGuarded(ctx context.Context, op, query string, args ...any) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, wrapStoreError(ctx, op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, wrapStoreError(ctx, op, err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
