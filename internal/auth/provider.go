package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxProviderResponseSize はIdPレスポンスとして読み込む最大バイト数。
const maxProviderResponseSize = 1 << 20

// Identity はIdPから取得した利用者の情報。
// Emailは検証済みのアドレスのみを設定し、取得できない場合は空文字列とする。
type Identity struct {
	Email        string
	Name         string
	UsernameHint string
}

// Provider は外部IdPとのOAuth2認可コードフローを抽象化する。
type Provider interface {
	// Name はURLパスに使うプロバイダー名を返す（"google", "github"）。
	Name() string
	// AuthorizationURL はIdPの認可画面URLを返す。
	AuthorizationURL(state string) string
	// ExchangeCode は認可コードをIdPのアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)
	// FetchIdentity はIdPのアクセストークンで利用者情報を取得する。
	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)
	// Endpoints はサーバーから送信するエンドポイントURLを返す。
	Endpoints() []string
}

// ProviderConfig はIdPのクライアント設定。
// エンドポイントURLは空の場合に既定値を使い、テストではhttptestのURLを指定する。
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// Configured はクライアントIDとシークレットが設定済みかを返す。
func (c ProviderConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// tokenResponse はトークンエンドポイントのレスポンス。
// エラー時もHTTP 200で返すIdPがあるため、errorフィールドも確認する。
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// postTokenRequest は認可コードをアクセストークンに交換する共通処理。
func postTokenRequest(ctx context.Context, client *http.Client, tokenURL string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var tokenResp tokenResponse
	if err := doJSON(client, req, &tokenResp); err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if tokenResp.Error != "" {
		return "", fmt.Errorf("token exchange rejected: %s: %s", tokenResp.Error, tokenResp.ErrorDescription)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}
	return tokenResp.AccessToken, nil
}

// getJSON はBearerトークン付きでGETし、JSONをoutにデコードする。
func getJSON(ctx context.Context, client *http.Client, endpoint, accessToken, accept string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", accept)
	return doJSON(client, req, out)
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
