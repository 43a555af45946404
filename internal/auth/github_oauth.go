package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultGitHubAuthURL  = "https://github.com/login/oauth/authorize"
	defaultGitHubTokenURL = "https://github.com/login/oauth/access_token"
	defaultGitHubUserURL  = "https://api.github.com/user"

	githubAccept = "application/vnd.github+json"
)

// GitHubProvider はGitHub OAuthによる認証を提供する。
type GitHubProvider struct {
	config ProviderConfig
	client *http.Client
}

// NewGitHubProvider はGitHubProviderを生成する。
// UserInfoURLは/userエンドポイントを指し、メール一覧はその配下の/emailsを使う。
func NewGitHubProvider(config ProviderConfig, client *http.Client) *GitHubProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGitHubAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGitHubTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGitHubUserURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GitHubProvider{config: config, client: client}
}

// Name はプロバイダー名を返す。
func (p *GitHubProvider) Name() string { return "github" }

// AuthorizationURL はGitHubの認可画面URLを生成する。
func (p *GitHubProvider) AuthorizationURL(state string) string {
	params := url.Values{
		"client_id":    {p.config.ClientID},
		"redirect_uri": {p.config.RedirectURL},
		"scope":        {"read:user user:email"},
		"state":        {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// GitHubはエラー時もHTTP 200でerrorフィールドを返す。
func (p *GitHubProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	return postTokenRequest(ctx, p.client, p.config.TokenURL, url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.config.RedirectURL},
	})
}

type githubUser struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchIdentity はプロフィールを取得する。
// 公開メールアドレスがない場合は、メール一覧から主かつ検証済みのアドレスを採用する。
func (p *GitHubProvider) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var user githubUser
	if err := getJSON(ctx, p.client, p.config.UserInfoURL, accessToken, githubAccept, &user); err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	ident := &Identity{Name: user.Name, UsernameHint: user.Login, Email: user.Email}
	if ident.Name == "" {
		ident.Name = user.Login
	}
	if ident.Email != "" {
		return ident, nil
	}

	var emails []githubEmail
	if err := getJSON(ctx, p.client, p.emailsURL(), accessToken, githubAccept, &emails); err != nil {
		return nil, fmt.Errorf("failed to fetch user emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			ident.Email = e.Email
			break
		}
	}
	return ident, nil
}

func (p *GitHubProvider) emailsURL() string {
	return strings.TrimRight(p.config.UserInfoURL, "/") + "/emails"
}

// Endpoints はサーバーから送信するエンドポイントURLを返す。
func (p *GitHubProvider) Endpoints() []string {
	return []string{p.config.TokenURL, p.config.UserInfoURL, p.emailsURL()}
}

// compile-time interface check
var _ Provider = (*GitHubProvider)(nil)
