package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/twofactor"
)

// TwoFactorServiceInterface は2FAハンドラーが必要とするサービスインターフェース。
type TwoFactorServiceInterface interface {
	Generate(ctx context.Context, user *model.User) (*twofactor.Enrollment, error)
	QRCode(ctx context.Context, user *model.User) ([]byte, error)
	Enable(ctx context.Context, user *model.User, code string) error
	Disable(ctx context.Context, user *model.User, plaintext string) error
}

// TwoFactorHandler は2段階認証のHTTPハンドラー。全エンドポイントで認証が必要。
type TwoFactorHandler struct {
	service TwoFactorServiceInterface
}

// NewTwoFactorHandler はTwoFactorHandlerを生成する。
func NewTwoFactorHandler(service TwoFactorServiceInterface) *TwoFactorHandler {
	return &TwoFactorHandler{service: service}
}

type enableTwoFactorRequest struct {
	OTPCode string `json:"otp_code"`
}

type disableTwoFactorRequest struct {
	Password string `json:"password"`
}

// Generate はシークレットを生成する。
// POST /2fa/generate
func (h *TwoFactorHandler) Generate(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	enrollment, err := h.service.Generate(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

// QRCode はプロビジョニングURIのQRコードをPNGで返す。
// GET /2fa/qr-code
func (h *TwoFactorHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	img, err := h.service.QRCode(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// Enable はOTPコードを確認して2FAを有効化する。
// POST /2fa/enable
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req enableTwoFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Enable(r.Context(), user, req.OTPCode); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "2段階認証を有効にしました。"})
}

// Disable はパスワードを再確認して2FAを無効化する。
// POST /2fa/disable
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req disableTwoFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Disable(r.Context(), user, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "2段階認証を無効にしました。"})
}
