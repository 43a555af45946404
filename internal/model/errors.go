// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, token, two_factor, external, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeAuthenticationFailed    = "AUTHENTICATION_FAILED"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeEmailAlreadyRegistered  = "EMAIL_ALREADY_REGISTERED"
	ErrCodeTokenInvalid            = "TOKEN_INVALID"
	ErrCodeTokenExpired            = "TOKEN_EXPIRED"
	ErrCodeTokenWrongType          = "TOKEN_WRONG_TYPE"
	ErrCodeTwoFactorRequired       = "TWO_FACTOR_REQUIRED"
	ErrCodeTwoFactorInvalidCode    = "TWO_FACTOR_INVALID_CODE"
	ErrCodeTwoFactorAlreadyEnabled = "TWO_FACTOR_ALREADY_ENABLED"
	ErrCodeTwoFactorNotInitialized = "TWO_FACTOR_NOT_INITIALIZED"
	ErrCodeExternalService         = "EXTERNAL_SERVICE_ERROR"
	ErrCodeProviderNotConfigured   = "PROVIDER_NOT_CONFIGURED"
	ErrCodeStorageTimeout          = "STORAGE_TIMEOUT"
)

// HasCode はerrのチェーン中にcodeを持つAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewAuthenticationError は認証失敗エラーを生成する。
// 原因（ユーザー不在・パスワード不一致・トークン不正）を区別しない。
func NewAuthenticationError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "ユーザー名とパスワードを確認し、ログインし直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザー名を確認してください。",
	}
}

// NewProviderNotFoundError は未知のIdPが指定された場合のエラーを生成する。
func NewProviderNotFoundError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s ログインには対応していません。", provider),
		Category: "external",
		Action:   "対応しているログイン方法を選択してください。",
	}
}

// NewEmailAlreadyRegisteredError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "このメールアドレスは既に使用されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、パスワードの再設定を行ってください。",
	}
}

// NewTokenInvalidError は署名不正・形式不正・使用済みトークンのエラーを生成する。
func NewTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenInvalid,
		Message:  "トークンが無効です。",
		Category: "token",
		Action:   "パスワード再設定を最初からやり直してください。",
	}
}

// NewTokenExpiredError は有効期限切れトークンのエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "トークンの有効期限が切れています。",
		Category: "token",
		Action:   "パスワード再設定を最初からやり直してください。",
	}
}

// NewTokenWrongTypeError は用途の異なるトークンが提示された場合のエラーを生成する。
func NewTokenWrongTypeError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenWrongType,
		Message:  "このトークンはこの操作には使用できません。",
		Category: "token",
		Action:   "メールで受け取ったリンクを使用してください。",
	}
}

// NewTwoFactorRequiredError は2FAコードが必要な場合のエラーを生成する。
func NewTwoFactorRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTwoFactorRequired,
		Message:  "2段階認証コードが必要です。",
		Category: "two_factor",
		Action:   "認証アプリに表示されている6桁のコードを入力してください。",
	}
}

// NewTwoFactorInvalidCodeError はOTPコード不一致エラーを生成する。
func NewTwoFactorInvalidCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeTwoFactorInvalidCode,
		Message:  "認証コードが正しくありません。",
		Category: "two_factor",
		Action:   "認証アプリの最新のコードを入力してください。端末の時刻設定も確認してください。",
	}
}

// NewTwoFactorAlreadyEnabledError は2FAが既に有効な場合のエラーを生成する。
func NewTwoFactorAlreadyEnabledError() *APIError {
	return &APIError{
		Code:     ErrCodeTwoFactorAlreadyEnabled,
		Message:  "2段階認証は既に有効です。",
		Category: "two_factor",
		Action:   "再設定する場合は一度無効化してください。",
	}
}

// NewTwoFactorNotInitializedError は2FAシークレット未生成エラーを生成する。
func NewTwoFactorNotInitializedError() *APIError {
	return &APIError{
		Code:     ErrCodeTwoFactorNotInitialized,
		Message:  "2段階認証のシークレットが生成されていません。",
		Category: "two_factor",
		Action:   "先にシークレットを生成してください。",
	}
}

// NewExternalServiceError は外部IdPとの連携失敗エラーを生成する。
func NewExternalServiceError(provider, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeExternalService,
		Message:  fmt.Sprintf("%s との連携に失敗しました: %s", provider, reason),
		Category: "external",
		Action:   "しばらく待ってから再度ログインをお試しください。",
	}
}

// NewProviderNotConfiguredError はIdPの認証情報が未設定の場合のエラーを生成する。
func NewProviderNotConfiguredError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotConfigured,
		Message:  fmt.Sprintf("%s ログインは設定されていません。", provider),
		Category: "system",
		Action:   "別のログイン方法をご利用ください。",
	}
}

// NewStorageTimeoutError はデータストアの応答タイムアウトエラーを生成する。
func NewStorageTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageTimeout,
		Message:  "データストアの応答がありません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
