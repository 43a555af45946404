package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authcore/internal/auth"
	"github.com/hitoshi/authcore/internal/middleware"
	"github.com/hitoshi/authcore/internal/model"
)

// FederatorInterface はOAuthハンドラーが必要とするIdP連携インターフェース。
type FederatorInterface interface {
	LoginURL(provider, state string) (string, error)
	Complete(ctx context.Context, provider, code string) (*model.AccessToken, error)
}

// OAuthHandlerConfig はOAuthハンドラーの設定。
type OAuthHandlerConfig struct {
	// SuccessURL はログイン完了後のリダイレクト先。トークンはフラグメントで渡す。
	SuccessURL  string
	StateCookie middleware.StateCookieConfig
}

// OAuthHandler は外部IdPによるログインのHTTPハンドラー。
type OAuthHandler struct {
	federator FederatorInterface
	config    OAuthHandlerConfig
	newState  func() (string, error)
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(federator FederatorInterface, config OAuthHandlerConfig) *OAuthHandler {
	return &OAuthHandler{federator: federator, config: config, newState: auth.NewState}
}

// Login はIdPの認可画面へリダイレクトする。
// GET /login/{provider}
func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := h.newState()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	loginURL, err := h.federator.LoginURL(provider, state)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetStateCookie(w, h.config.StateCookie, provider, state)
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// Callback はIdPからのリダイレクトを受け取り、ログインを完了する。
// GET /callback/{provider}
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	if !middleware.ConsumeStateCookie(w, r, h.config.StateCookie, provider, q.Get("state")) {
		slog.Warn("oauth state mismatch", slog.String("provider", provider))
		handleServiceError(w, model.NewValidationError("stateパラメータが一致しません"))
		return
	}

	if idpErr := q.Get("error"); idpErr != "" {
		slog.Warn("oauth provider returned error", slog.String("provider", provider), slog.String("error", idpErr))
		handleServiceError(w, model.NewExternalServiceError(provider, "認可が拒否されました"))
		return
	}

	tok, err := h.federator.Complete(r.Context(), provider, q.Get("code"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	fragment := url.Values{}
	fragment.Set("access_token", tok.Token)
	fragment.Set("token_type", tok.TokenType)
	fragment.Set("expires_in", strconv.FormatInt(int64(tok.ExpiresIn.Seconds()), 10))

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.config.SuccessURL+"#"+fragment.Encode(), http.StatusFound)
}
