// Package twofactor はTOTPによる2段階認証の登録・有効化・無効化を提供する。
package twofactor

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"

	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/password"
	"github.com/hitoshi/authcore/internal/repository"
)

// QRCodeSize はQRコード画像の一辺のピクセル数。
const QRCodeSize = 256

// Enrollment はシークレット生成結果。
type Enrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// Service は2段階認証のライフサイクルを管理する。
type Service struct {
	users   repository.UserRepository
	hasher  *password.Hasher
	totp    *TOTP
	metrics metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, hasher *password.Hasher, t *TOTP, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{users: users, hasher: hasher, totp: t, metrics: mc}
}

// Generate は新しいシークレットを生成して保存する。
// 既に2FAが有効な場合はエラーを返す。未有効のシークレットは上書きされる。
func (s *Service) Generate(ctx context.Context, user *model.User) (*Enrollment, error) {
	if user.IsTwoFactorEnabled {
		s.metrics.RecordTwoFactor("generate", metrics.OutcomeConflict)
		return nil, model.NewTwoFactorAlreadyEnabledError()
	}

	key, err := s.totp.NewSecret(user.Email)
	if err != nil {
		return nil, err
	}

	stored, err := s.users.SetTwoFactorSecret(ctx, user.ID, key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to store two-factor secret: %w", err)
	}
	if !stored {
		s.metrics.RecordTwoFactor("generate", metrics.OutcomeConflict)
		return nil, model.NewTwoFactorAlreadyEnabledError()
	}

	secret := key.Secret()
	user.TwoFactorSecret = &secret
	s.metrics.RecordTwoFactor("generate", metrics.OutcomeSuccess)
	slog.Info("two-factor secret generated", slog.String("username", user.Username))

	return &Enrollment{Secret: secret, ProvisioningURI: key.URL()}, nil
}

// QRCode は保存済みシークレットのプロビジョニングURIをPNG画像にして返す。
func (s *Service) QRCode(ctx context.Context, user *model.User) ([]byte, error) {
	if !user.HasTwoFactorSecret() {
		return nil, model.NewTwoFactorNotInitializedError()
	}

	key, err := s.totp.KeyFor(user.Email, *user.TwoFactorSecret)
	if err != nil {
		return nil, err
	}
	img, err := key.Image(QRCodeSize, QRCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return buf.Bytes(), nil
}

// Enable はコードを検証し、一致すれば2FAを有効化する。
func (s *Service) Enable(ctx context.Context, user *model.User, code string) error {
	if !user.HasTwoFactorSecret() {
		return model.NewTwoFactorNotInitializedError()
	}
	if !s.totp.Verify(*user.TwoFactorSecret, code) {
		s.metrics.RecordTwoFactor("enable", metrics.OutcomeInvalid)
		return model.NewTwoFactorInvalidCodeError()
	}

	enabled, err := s.users.EnableTwoFactor(ctx, user.ID, *user.TwoFactorSecret)
	if err != nil {
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}
	if !enabled {
		// 検証中にシークレットが再生成された
		s.metrics.RecordTwoFactor("enable", metrics.OutcomeInvalid)
		return model.NewTwoFactorInvalidCodeError()
	}

	user.IsTwoFactorEnabled = true
	s.metrics.RecordTwoFactor("enable", metrics.OutcomeSuccess)
	slog.Info("two-factor enabled", slog.String("username", user.Username))
	return nil
}

// Disable はパスワードを再確認したうえで2FAを無効化し、シークレットを消去する。
func (s *Service) Disable(ctx context.Context, user *model.User, plaintext string) error {
	if !s.hasher.Verify(plaintext, user.HashedPassword) {
		s.metrics.RecordTwoFactor("disable", metrics.OutcomeFailure)
		return model.NewAuthenticationError()
	}

	if err := s.users.DisableTwoFactor(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}

	user.IsTwoFactorEnabled = false
	user.TwoFactorSecret = nil
	s.metrics.RecordTwoFactor("disable", metrics.OutcomeSuccess)
	slog.Info("two-factor disabled", slog.String("username", user.Username))
	return nil
}

// Verify はログイン時のコード検証に使う。
func (s *Service) Verify(secret, code string) bool {
	return s.totp.Verify(secret, code)
}
