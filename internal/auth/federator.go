package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/model"
)

// KnownProviders は対応しているIdPの一覧。
var KnownProviders = []string{"google", "github"}

// Federator は外部IdPの認可コードフローを完了させ、ローカルアカウントに紐付ける。
type Federator struct {
	svc       *Service
	providers map[string]Provider
}

// NewFederator はFederatorを生成する。providersには認証情報が設定済みのIdPのみを渡す。
func NewFederator(svc *Service, providers ...Provider) *Federator {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Federator{svc: svc, providers: m}
}

// Provider は名前に対応するIdPを返す。
// 未対応のIdPはNotFound、対応しているが未設定のIdPはProviderNotConfiguredエラーを返す。
func (f *Federator) Provider(name string) (Provider, error) {
	if p, ok := f.providers[name]; ok {
		return p, nil
	}
	for _, known := range KnownProviders {
		if known == name {
			return nil, model.NewProviderNotConfiguredError(name)
		}
	}
	return nil, model.NewProviderNotFoundError(name)
}

// Providers は設定済みのIdPを返す。
func (f *Federator) Providers() []Provider {
	out := make([]Provider, 0, len(f.providers))
	for _, name := range KnownProviders {
		if p, ok := f.providers[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// NewState はCSRF対策用のstateパラメータを生成する。
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// LoginURL はIdPの認可画面URLを返す。
func (f *Federator) LoginURL(name, state string) (string, error) {
	p, err := f.Provider(name)
	if err != nil {
		return "", err
	}
	return p.AuthorizationURL(state), nil
}

// Complete は認可コードを交換して利用者を特定し、アクセストークンを発行する。
// メールアドレスが一致するアカウントがなければ作成する。
func (f *Federator) Complete(ctx context.Context, name, code string) (*model.AccessToken, error) {
	p, err := f.Provider(name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, model.NewValidationError("認可コードがありません")
	}

	providerToken, err := p.ExchangeCode(ctx, code)
	if err != nil {
		f.svc.metrics.RecordOAuthLogin(name, metrics.OutcomeFailure)
		slog.Warn("oauth code exchange failed", slog.String("provider", name), slog.String("error", err.Error()))
		return nil, model.NewExternalServiceError(name, "認可コードの交換に失敗しました")
	}

	ident, err := p.FetchIdentity(ctx, providerToken)
	if err != nil {
		f.svc.metrics.RecordOAuthLogin(name, metrics.OutcomeFailure)
		slog.Warn("oauth identity fetch failed", slog.String("provider", name), slog.String("error", err.Error()))
		return nil, model.NewExternalServiceError(name, "利用者情報の取得に失敗しました")
	}

	email, err := normalizeEmail(ident.Email)
	if err != nil {
		f.svc.metrics.RecordOAuthLogin(name, metrics.OutcomeFailure)
		return nil, model.NewExternalServiceError(name, "検証済みのメールアドレスを取得できませんでした")
	}

	user, err := f.resolveUser(ctx, name, email, ident)
	if err != nil {
		f.svc.metrics.RecordOAuthLogin(name, metrics.OutcomeFailure)
		return nil, err
	}
	if !user.IsActive {
		f.svc.metrics.RecordOAuthLogin(name, metrics.OutcomeFailure)
		return nil, model.NewAuthenticationError()
	}

	tok, err := f.svc.issueAccessToken(user)
	if err != nil {
		return nil, err
	}
	f.svc.metrics.RecordOAuthLogin(name, metrics.OutcomeSuccess)
	slog.Info("oauth login", slog.String("provider", name), slog.String("username", user.Username))
	return tok, nil
}

// resolveUser はメールアドレスで既存アカウントを探し、なければ作成する。
func (f *Federator) resolveUser(ctx context.Context, provider, email string, ident *Identity) (*model.User, error) {
	user, err := f.svc.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		return user, nil
	}

	// パスワードログインには使えない乱数パスワードを設定する
	random, err := randomHex(16)
	if err != nil {
		return nil, err
	}
	hashed, err := f.svc.hasher.Hash(random)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	hint := ident.UsernameHint
	if hint == "" {
		hint = localPart(email)
	}
	user = &model.User{
		Email:          email,
		FullName:       f.svc.names.Sanitize(ident.Name),
		HashedPassword: hashed,
		IsActive:       true,
	}
	err = f.svc.createWithUniqueUsername(ctx, hint, user)
	if model.HasCode(err, model.ErrCodeEmailAlreadyRegistered) {
		// 同時のコールバックが先に作成した
		return f.findExisting(ctx, email)
	}
	if err != nil {
		return nil, err
	}

	f.svc.metrics.RecordRegistration(metrics.OutcomeSuccess)
	slog.Info("user provisioned from identity provider",
		slog.String("provider", provider),
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

func (f *Federator) findExisting(ctx context.Context, email string) (*model.User, error) {
	user, err := f.svc.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, errors.New("user vanished after email conflict")
	}
	return user, nil
}
