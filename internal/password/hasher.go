// Package password はパスワードの一方向ハッシュ化と検証を提供する。
//
// bcryptの自己記述形式（$2a$cost$salt+hash）で保存するため、
// コストを変更しても既存のハッシュはそのまま検証できる。
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxBytes はbcryptが扱える平文の最大バイト数。
const MaxBytes = 72

// ErrTooLong は平文がMaxBytesを超える場合に返される。
var ErrTooLong = errors.New("password exceeds 72 bytes")

// Hasher はbcryptによるパスワードハッシュ化を行う。
// 生成後はイミュータブルで、複数goroutineから安全に利用できる。
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher はHasherを生成する。
// costがbcryptの許容範囲外の場合はエラーを返す。
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d: %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}

	// ユーザー不在時にも同等のCPUコストを消費させるためのダミーハッシュ
	dummy, err := bcrypt.GenerateFromPassword([]byte("authcore-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &Hasher{cost: cost, dummy: dummy}, nil
}

// Hash は平文パスワードをソルト付きでハッシュ化する。
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxBytes {
		return "", ErrTooLong
	}
	if plaintext == "" {
		return "", errors.New("password must not be empty")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify は平文パスワードが保存済みハッシュと一致するかを返す。
// 比較は定数時間で行われ、不正な形式のハッシュに対してはfalseを返す。
func (h *Hasher) Verify(plaintext, encoded string) bool {
	if encoded == "" {
		h.DummyVerify(plaintext)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext)) == nil
}

// DummyVerify は結果を捨てて検証と同じコストを消費する。
func (h *Hasher) DummyVerify(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
