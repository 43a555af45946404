// Package auth はアカウント登録、ログイン、パスワード再設定、外部IdP連携を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/notify"
	"github.com/hitoshi/authcore/internal/password"
	"github.com/hitoshi/authcore/internal/repository"
	"github.com/hitoshi/authcore/internal/security"
	"github.com/hitoshi/authcore/internal/token"
)

// TokenTypeBearer はレスポンスに返すトークン種別。
const TokenTypeBearer = "bearer"

// Enqueuer は通知を非同期送信キューに積む。
type Enqueuer interface {
	Enqueue(msg notify.Message) bool
}

// CodeVerifier はTOTPコードを検証する。
type CodeVerifier interface {
	Verify(secret, code string) bool
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	AccessTokenTTL    time.Duration
	ResetTokenTTL     time.Duration
	PasswordMinLength int
	ResetPasswordURL  string
}

// Dependencies はServiceが利用するコンポーネント群。
type Dependencies struct {
	Users    repository.UserRepository
	Consumed repository.ConsumedTokenStore
	Hasher   *password.Hasher
	Tokens   *token.Issuer
	Names    *security.NameSanitizer
	Codes    CodeVerifier
	Notifier Enqueuer
	Metrics  metrics.MetricsCollector
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	consumed repository.ConsumedTokenStore
	hasher   *password.Hasher
	tokens   *token.Issuer
	names    *security.NameSanitizer
	codes    CodeVerifier
	notifier Enqueuer
	metrics  metrics.MetricsCollector
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(deps Dependencies, config ServiceConfig) *Service {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Names == nil {
		deps.Names = security.NewNameSanitizer()
	}
	if config.PasswordMinLength <= 0 {
		config.PasswordMinLength = 8
	}
	return &Service{
		users:    deps.Users,
		consumed: deps.Consumed,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		names:    deps.Names,
		codes:    deps.Codes,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		config:   config,
	}
}

// RegisterInput はアカウント登録の入力。
type RegisterInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
}

// Register はアカウントを作成する。
// メールアドレスが登録済みの場合はEmailAlreadyRegisteredエラーを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	return s.register(ctx, in, false)
}

// CreateAdmin は管理者アカウントを作成する。運用コマンドから使う。
func (s *Service) CreateAdmin(ctx context.Context, in RegisterInput) (*model.User, error) {
	return s.register(ctx, in, true)
}

func (s *Service) register(ctx context.Context, in RegisterInput, admin bool) (*model.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return nil, model.NewValidationError("姓と名は必須です")
	}
	if err := s.checkPassword(in.Password); err != nil {
		return nil, err
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return nil, model.NewValidationError("確認用パスワードが一致しません")
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing email: %w", err)
	}
	if existing != nil {
		s.metrics.RecordRegistration(metrics.OutcomeConflict)
		return nil, model.NewEmailAlreadyRegisteredError()
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Email:          email,
		FullName:       s.names.FullName(first, last),
		HashedPassword: hashed,
		IsActive:       true,
		IsAdmin:        admin,
	}
	if err := s.createWithUniqueUsername(ctx, localPart(email), user); err != nil {
		if model.HasCode(err, model.ErrCodeEmailAlreadyRegistered) {
			s.metrics.RecordRegistration(metrics.OutcomeConflict)
		}
		return nil, err
	}

	s.metrics.RecordRegistration(metrics.OutcomeSuccess)
	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
		slog.Bool("is_admin", user.IsAdmin),
	)
	s.enqueue(notify.WelcomeMessage(user.Email, user.FullName))

	return user, nil
}

// Login はユーザー名とパスワードで認証し、アクセストークンを発行する。
// 2FAが有効なユーザーはotpCodeも必要。
// 失敗理由（ユーザー不在・無効・パスワード不一致・コード不一致）は区別しない。
func (s *Service) Login(ctx context.Context, username, plaintext, otpCode string) (*model.AccessToken, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		s.hasher.DummyVerify(plaintext)
		s.metrics.RecordLogin(metrics.OutcomeFailure)
		return nil, model.NewAuthenticationError()
	}
	if !s.hasher.Verify(plaintext, user.HashedPassword) || !user.IsActive {
		s.metrics.RecordLogin(metrics.OutcomeFailure)
		return nil, model.NewAuthenticationError()
	}

	if user.IsTwoFactorEnabled {
		if strings.TrimSpace(otpCode) == "" {
			s.metrics.RecordLogin(metrics.OutcomeTwoFactorRequired)
			return nil, model.NewTwoFactorRequiredError()
		}
		if s.codes == nil || !user.HasTwoFactorSecret() || !s.codes.Verify(*user.TwoFactorSecret, otpCode) {
			s.metrics.RecordLogin(metrics.OutcomeFailure)
			return nil, model.NewAuthenticationError()
		}
	}

	tok, err := s.issueAccessToken(user)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLogin(metrics.OutcomeSuccess)
	slog.Info("user logged in", slog.String("username", user.Username))
	return tok, nil
}

// CurrentUser はアクセストークンから有効なユーザーを解決する。
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*model.User, error) {
	claims, err := s.tokens.Verify(accessToken, token.TypeAccess)
	if err != nil {
		return nil, model.NewAuthenticationError()
	}

	user, err := s.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, model.NewAuthenticationError()
	}
	return user, nil
}

// RequestPasswordReset はパスワード再設定リンクを通知する。
// アカウントの有無にかかわらず同じ結果を返し、内部エラーも呼び出し元に伝えない。
func (s *Service) RequestPasswordReset(ctx context.Context, rawEmail string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		slog.Error("failed to look up user for password reset", slog.String("error", err.Error()))
		return nil
	}
	if user == nil || !user.IsActive {
		s.metrics.RecordPasswordReset("request", metrics.OutcomeInvalid)
		return nil
	}

	signed, _, err := s.tokens.Issue(user.Username, token.TypeReset, s.config.ResetTokenTTL)
	if err != nil {
		slog.Error("failed to issue reset token", slog.String("error", err.Error()))
		return nil
	}

	s.enqueue(notify.PasswordResetMessage(user.Email, s.resetLink(signed), s.config.ResetTokenTTL))
	s.metrics.RecordPasswordReset("request", metrics.OutcomeSuccess)
	slog.Info("password reset requested", slog.String("username", user.Username))
	return nil
}

// ConfirmPasswordReset は再設定トークンを検証し、パスワードを上書きする。
// トークンは1回限り有効。
func (s *Service) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword, confirm string) error {
	claims, err := s.tokens.Verify(resetToken, token.TypeReset)
	if err != nil {
		s.metrics.RecordPasswordReset("confirm", metrics.OutcomeInvalid)
		return tokenError(err)
	}
	if err := s.checkPassword(newPassword); err != nil {
		return err
	}
	if confirm != "" && confirm != newPassword {
		return model.NewValidationError("確認用パスワードが一致しません")
	}

	user, err := s.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		s.metrics.RecordPasswordReset("confirm", metrics.OutcomeInvalid)
		return model.NewTokenInvalidError()
	}

	if s.consumed != nil {
		first, err := s.consumed.MarkConsumed(ctx, claims.ID, claims.ExpiresAt.Time)
		if err != nil {
			return fmt.Errorf("failed to mark reset token consumed: %w", err)
		}
		if !first {
			s.metrics.RecordPasswordReset("confirm", metrics.OutcomeInvalid)
			return model.NewTokenInvalidError()
		}
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.metrics.RecordPasswordReset("confirm", metrics.OutcomeSuccess)
	slog.Info("password reset completed", slog.String("username", user.Username))
	return nil
}

func (s *Service) issueAccessToken(user *model.User) (*model.AccessToken, error) {
	signed, claims, err := s.tokens.Issue(user.Username, token.TypeAccess, s.config.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	return &model.AccessToken{
		Token:     signed,
		TokenType: TokenTypeBearer,
		ExpiresIn: s.config.AccessTokenTTL,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) checkPassword(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < s.config.PasswordMinLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", s.config.PasswordMinLength))
	}
	if len(plaintext) > password.MaxBytes {
		return model.NewValidationError(fmt.Sprintf("パスワードは%dバイト以内で入力してください", password.MaxBytes))
	}
	return nil
}

func (s *Service) resetLink(signed string) string {
	sep := "?"
	if strings.Contains(s.config.ResetPasswordURL, "?") {
		sep = "&"
	}
	return s.config.ResetPasswordURL + sep + "token=" + url.QueryEscape(signed)
}

func (s *Service) enqueue(msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if !s.notifier.Enqueue(msg) {
		slog.Warn("notification not queued", slog.String("kind", string(msg.Kind)))
	}
}

func tokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return model.NewTokenExpiredError()
	case errors.Is(err, token.ErrWrongType):
		return model.NewTokenWrongTypeError()
	default:
		return model.NewTokenInvalidError()
	}
}

// normalizeEmail は前後の空白を除き小文字化したメールアドレスを返す。
// 表示名付きの形式は受け付けない。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewValidationError("メールアドレスは必須です")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "", model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	return email, nil
}

func localPart(email string) string {
	if i := strings.LastIndex(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

// LookupUser はユーザー名でアカウントを取得する。管理者向け。
func (s *Service) LookupUser(ctx context.Context, username string) (*model.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
