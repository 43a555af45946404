package twofactor

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// SecretSize はシークレットのバイト長（base32で32文字）。
	SecretSize = 20
	// Period はコードの更新間隔（秒）。
	Period = 30
	// Skew は現在のステップの前後に許容するステップ数。
	Skew = 1
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTP はRFC 6238のワンタイムパスワード（SHA1・6桁・30秒）を扱う。
type TOTP struct {
	issuer string
	now    func() time.Time
}

// NewTOTP はTOTPを生成する。issuerは認証アプリに表示される発行者名。
func NewTOTP(issuer string) *TOTP {
	return &TOTP{issuer: issuer, now: time.Now}
}

// WithClock は時刻取得関数を差し替えたTOTPを返す。テスト用。
func (t *TOTP) WithClock(now func() time.Time) *TOTP {
	clone := *t
	clone.now = now
	return &clone
}

func (t *TOTP) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    Period,
		Skew:      Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// NewSecret はaccountを対象とする新しいシークレットを生成する。
func (t *TOTP) NewSecret(account string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: account,
		Period:      Period,
		SecretSize:  SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key, nil
}

// KeyFor は保存済みのbase32シークレットからプロビジョニング用のキーを再構築する。
func (t *TOTP) KeyFor(account, secret string) (*otp.Key, error) {
	raw, err := secretEncoding.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to decode totp secret: %w", err)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: account,
		Period:      Period,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build totp key: %w", err)
	}
	return key, nil
}

// Verify はcodeが現在時刻の前後1ステップ以内で有効かを返す。
// 比較は定数時間で行われる。
func (t *TOTP) Verify(secret, code string) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), t.validateOpts())
	return err == nil && ok
}

// CodeAt は指定時刻のコードを返す。
func (t *TOTP) CodeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), t.validateOpts())
}
