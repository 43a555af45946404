package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authcore/internal/model"
)

// UserLookup は管理者向けユーザー参照のインターフェース。
type UserLookup interface {
	LookupUser(ctx context.Context, username string) (*model.User, error)
}

// AdminHandler は管理者専用のHTTPハンドラー。
type AdminHandler struct {
	users UserLookup
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(users UserLookup) *AdminHandler {
	return &AdminHandler{users: users}
}

// GetUser はユーザー名でアカウント情報を返す。
// GET /admin/users/{username}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.LookupUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.View())
}
