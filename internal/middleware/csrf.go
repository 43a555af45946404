package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"
)

const (
	// stateCookiePrefix はOAuth stateを保持するCookie名の接頭辞。IdPごとに分ける。
	stateCookiePrefix = "oauth_state_"

	// stateCookieMaxAge は認可画面での操作を待つ最大時間。
	stateCookieMaxAge = 10 * time.Minute
)

// StateCookieConfig はOAuth state Cookieの設定。
type StateCookieConfig struct {
	CookieSecure bool
	CookieDomain string
}

// SetStateCookie はOAuthのCSRF対策用stateをHttpOnly Cookieに保存する。
// IdPからのリダイレクトで送信されるよう、SameSite=Laxとする。
func SetStateCookie(w http.ResponseWriter, config StateCookieConfig, provider, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookiePrefix + provider,
		Value:    state,
		Path:     "/callback/" + provider,
		Domain:   config.CookieDomain,
		MaxAge:   int(stateCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ConsumeStateCookie はコールバックのstateパラメータをCookieと照合し、Cookieを削除する。
// Cookieがない場合や値が一致しない場合はfalseを返す。
func ConsumeStateCookie(w http.ResponseWriter, r *http.Request, config StateCookieConfig, provider, state string) bool {
	cookie, err := r.Cookie(stateCookiePrefix + provider)

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookiePrefix + provider,
		Value:    "",
		Path:     "/callback/" + provider,
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if err != nil || cookie.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) == 1
}
