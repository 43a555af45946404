package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/authcore/internal/auth"
	"github.com/hitoshi/authcore/internal/middleware"
	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/twofactor"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn             func(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	loginFn                func(ctx context.Context, username, password, otpCode string) (*model.AccessToken, error)
	requestPasswordResetFn func(ctx context.Context, email string) error
	confirmPasswordResetFn func(ctx context.Context, resetToken, newPassword, confirm string) error
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, username, password, otpCode string) (*model.AccessToken, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password, otpCode)
	}
	return nil, nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword, confirm string) error {
	if m.confirmPasswordResetFn != nil {
		return m.confirmPasswordResetFn(ctx, resetToken, newPassword, confirm)
	}
	return nil
}

type mockFederator struct {
	loginURLFn func(provider, state string) (string, error)
	completeFn func(ctx context.Context, provider, code string) (*model.AccessToken, error)
}

func (m *mockFederator) LoginURL(provider, state string) (string, error) {
	if m.loginURLFn != nil {
		return m.loginURLFn(provider, state)
	}
	return "", nil
}

func (m *mockFederator) Complete(ctx context.Context, provider, code string) (*model.AccessToken, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, provider, code)
	}
	return nil, nil
}

type mockTwoFactorService struct {
	generateFn func(ctx context.Context, user *model.User) (*twofactor.Enrollment, error)
	qrCodeFn   func(ctx context.Context, user *model.User) ([]byte, error)
	enableFn   func(ctx context.Context, user *model.User, code string) error
	disableFn  func(ctx context.Context, user *model.User, plaintext string) error
}

func (m *mockTwoFactorService) Generate(ctx context.Context, user *model.User) (*twofactor.Enrollment, error) {
	if m.generateFn != nil {
		return m.generateFn(ctx, user)
	}
	return nil, nil
}

func (m *mockTwoFactorService) QRCode(ctx context.Context, user *model.User) ([]byte, error) {
	if m.qrCodeFn != nil {
		return m.qrCodeFn(ctx, user)
	}
	return nil, nil
}

func (m *mockTwoFactorService) Enable(ctx context.Context, user *model.User, code string) error {
	if m.enableFn != nil {
		return m.enableFn(ctx, user, code)
	}
	return nil
}

func (m *mockTwoFactorService) Disable(ctx context.Context, user *model.User, plaintext string) error {
	if m.disableFn != nil {
		return m.disableFn(ctx, user, plaintext)
	}
	return nil
}

type mockUserLookup struct {
	lookupUserFn func(ctx context.Context, username string) (*model.User, error)
}

func (m *mockUserLookup) LookupUser(ctx context.Context, username string) (*model.User, error) {
	if m.lookupUserFn != nil {
		return m.lookupUserFn(ctx, username)
	}
	return nil, nil
}

type mockUserResolver struct {
	currentUserFn func(ctx context.Context, accessToken string) (*model.User, error)
}

func (m *mockUserResolver) CurrentUser(ctx context.Context, accessToken string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, accessToken)
	}
	return nil, model.NewAuthenticationError()
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

func withUser(ctx context.Context, user *model.User) context.Context {
	return middleware.ContextWithUser(ctx, user)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}
