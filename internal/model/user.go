// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証対象のアカウントを表す。
// HashedPasswordとTwoFactorSecretはレスポンスやログに出力してはならない。
type User struct {
	ID                 int64
	Username           string
	Email              string
	FullName           string
	HashedPassword     string
	IsActive           bool
	IsAdmin            bool
	TwoFactorSecret    *string
	IsTwoFactorEnabled bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasTwoFactorSecret は2FAシークレットが生成済みかを返す。
func (u *User) HasTwoFactorSecret() bool {
	return u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}

// UserView はAPIレスポンスとして公開するユーザー情報。
type UserView struct {
	ID                 int64     `json:"id"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	FullName           string    `json:"full_name"`
	IsActive           bool      `json:"is_active"`
	IsAdmin            bool      `json:"is_admin"`
	IsTwoFactorEnabled bool      `json:"is_two_factor_enabled"`
	CreatedAt          time.Time `json:"created_at"`
}

// View は秘匿フィールドを除いた公開用ビューを返す。
func (u *User) View() UserView {
	return UserView{
		ID:                 u.ID,
		Username:           u.Username,
		Email:              u.Email,
		FullName:           u.FullName,
		IsActive:           u.IsActive,
		IsAdmin:            u.IsAdmin,
		IsTwoFactorEnabled: u.IsTwoFactorEnabled,
		CreatedAt:          u.CreatedAt,
	}
}

// AccessToken はログイン成功時に発行するアクセストークンを表す。
type AccessToken struct {
	Token     string
	TokenType string
	ExpiresIn time.Duration
	ExpiresAt time.Time
}
