// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authcore/internal/model"
)

var (
	// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrDuplicateUsername はユーザー名の一意制約違反を表す。
	ErrDuplicateUsername = errors.New("username already exists")
)

// UserRepository はユーザーデータの永続化インターフェース。
// 一意性の最終的な判定はストア側の制約が行う。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
	// 一意制約違反時はErrDuplicateEmailまたはErrDuplicateUsernameを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdatePassword はパスワードハッシュを上書きする。
	UpdatePassword(ctx context.Context, id int64, hashedPassword string) error

	// SetTwoFactorSecret は2FAが無効なユーザーにシークレットを保存する。
	// 既に有効な場合は更新せずfalseを返す。
	SetTwoFactorSecret(ctx context.Context, id int64, secret string) (bool, error)

	// EnableTwoFactor は保存済みシークレットがsecretと一致する場合に2FAを有効化する。
	// シークレットが既に差し替えられていた場合はfalseを返す。
	EnableTwoFactor(ctx context.Context, id int64, secret string) (bool, error)

	// DisableTwoFactor は2FAを無効化し、シークレットを同一文で消去する。
	DisableTwoFactor(ctx context.Context, id int64) error
}

// ConsumedTokenStore は使用済みトークン（jti）の記録インターフェース。
type ConsumedTokenStore interface {
	// MarkConsumed はjtiを使用済みとして記録する。
	// 初回の記録ならtrue、既に記録済みならfalseを返す。
	MarkConsumed(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
}

// ConsumedTokenPurger は期限切れの使用済みトークン記録を削除する。
// Redisのように自動失効するストアは実装しない。
type ConsumedTokenPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
