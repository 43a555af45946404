// Package token は短命なベアラートークン（JWT）の発行と検証を提供する。
//
// トークンはサーバー側に状態を持たない。用途はtypeクレームで区別し、
// access用トークンをreset用途に、またはその逆に流用することはできない。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type はトークンの用途を表す。
type Type string

const (
	// TypeAccess は保護されたAPIへのアクセスに使うトークン。
	TypeAccess Type = "access"
	// TypeReset はパスワード再設定に使うトークン。
	TypeReset Type = "reset"
)

var (
	// ErrInvalid は署名不正・形式不正・想定外アルゴリズムのトークンに返される。
	ErrInvalid = errors.New("token is invalid")
	// ErrExpired は有効期限を過ぎたトークンに返される。
	ErrExpired = errors.New("token is expired")
	// ErrWrongType はtypeクレームが期待値と異なる場合に返される。
	ErrWrongType = errors.New("token has wrong type")
)

// Claims はトークンに格納するクレーム。
// sub（ユーザー名）、exp、iat、jtiはRegisteredClaimsで表す。
type Claims struct {
	Type Type `json:"type"`
	jwt.RegisteredClaims
}

// Config はIssuerの設定。
type Config struct {
	SecretKey []byte
	Algorithm string // HS256, HS384, HS512
}

// Issuer はトークンの署名と検証を行う。
// 生成後はイミュータブルで、複数goroutineから安全に利用できる。
type Issuer struct {
	key    []byte
	method jwt.SigningMethod
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。署名鍵が空の場合はエラーを返す。
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.SecretKey) == 0 {
		return nil, errors.New("token signing key is required")
	}

	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	return &Issuer{key: cfg.SecretKey, method: method, now: time.Now}, nil
}

// WithClock は時刻取得関数を差し替えたIssuerを返す。テスト用。
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	clone := *i
	clone.now = now
	return &clone
}

// Issue はsubjectとtypeを持つトークンをttlの有効期間で発行する。
func (i *Issuer) Issue(subject string, typ Type, ttl time.Duration) (string, *Claims, error) {
	if subject == "" {
		return "", nil, errors.New("token subject is required")
	}
	if ttl <= 0 {
		return "", nil, errors.New("token ttl must be positive")
	}

	now := i.now()
	claims := &Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify はトークンの署名・有効期限・typeを検証し、クレームを返す。
func (i *Issuer) Verify(tokenStr string, expected Type) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalid
	}
	if claims.Type != expected {
		return nil, ErrWrongType
	}

	return claims, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", alg)
	}
}
