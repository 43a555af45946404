package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleProvider はGoogle OAuth 2.0による認証を提供する。
type GoogleProvider struct {
	config ProviderConfig
	client *http.Client
}

// NewGoogleProvider はGoogleProviderを生成する。
func NewGoogleProvider(config ProviderConfig, client *http.Client) *GoogleProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleProvider{config: config, client: client}
}

// Name はプロバイダー名を返す。
func (p *GoogleProvider) Name() string { return "google" }

// AuthorizationURL はGoogleの認可画面URLを生成する。
// スコープにはopenid, email, profileを含む。
func (p *GoogleProvider) AuthorizationURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"access_type":   {"online"},
		"prompt":        {"select_account"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	return postTokenRequest(ctx, p.client, p.config.TokenURL, url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	})
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// FetchIdentity はユーザー情報を取得する。未検証のメールアドレスは採用しない。
func (p *GoogleProvider) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var info googleUserInfo
	if err := getJSON(ctx, p.client, p.config.UserInfoURL, accessToken, "application/json", &info); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	ident := &Identity{Name: info.Name}
	if info.EmailVerified {
		ident.Email = info.Email
		ident.UsernameHint = localPart(info.Email)
	}
	return ident, nil
}

// Endpoints はサーバーから送信するエンドポイントURLを返す。
func (p *GoogleProvider) Endpoints() []string {
	return []string{p.config.TokenURL, p.config.UserInfoURL}
}

// compile-time interface check
var _ Provider = (*GoogleProvider)(nil)
