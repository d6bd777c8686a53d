// Package oauth は外部IdPとのOAuth2認可コードフローを扱い、
// 取得したプロフィールを正規化したアサーションに変換する。
package oauth

import (
	"fmt"
	"sort"

	"golang.org/x/oauth2"
)

// ProviderConfig は外部IdPの設定。
type ProviderConfig struct {
	Name         string
	DisplayName  string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	// EmailsURL はユーザー情報にメールアドレスが含まれない場合の取得先。GitHubのみ。
	EmailsURL string
	Scopes    []string
	// AuthStyle はトークンリクエストでのクライアント認証方式。
	AuthStyle oauth2.AuthStyle
	// PKCE が有効な場合はS256のcode_challengeを送信する。
	PKCE bool
}

// builtinProviders は対応しているIdPのエンドポイント定義。
var builtinProviders = map[string]ProviderConfig{
	"google": {
		Name:        "google",
		DisplayName: "Google",
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:      []string{"openid", "email", "profile"},
		AuthStyle:   oauth2.AuthStyleInParams,
		PKCE:        true,
	},
	"github": {
		Name:        "github",
		DisplayName: "GitHub",
		AuthURL:     "https://github.com/login/oauth/authorize",
		TokenURL:    "https://github.com/login/oauth/access_token",
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
		Scopes:      []string{"read:user", "user:email"},
		AuthStyle:   oauth2.AuthStyleInParams,
		PKCE:        true,
	},
	"facebook": {
		Name:        "facebook",
		DisplayName: "Facebook",
		AuthURL:     "https://www.facebook.com/v19.0/dialog/oauth",
		TokenURL:    "https://graph.facebook.com/v19.0/oauth/access_token",
		UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		Scopes:      []string{"email", "public_profile"},
		AuthStyle:   oauth2.AuthStyleInParams,
	},
	// X (Twitter) のOAuth 2.0はPKCE必須で、クライアント認証はBasic認証ヘッダーで行う。
	"twitter": {
		Name:        "twitter",
		DisplayName: "X",
		AuthURL:     "https://twitter.com/i/oauth2/authorize",
		TokenURL:    "https://api.twitter.com/2/oauth2/token",
		UserInfoURL: "https://api.twitter.com/2/users/me",
		Scopes:      []string{"tweet.read", "users.read"},
		AuthStyle:   oauth2.AuthStyleInHeader,
		PKCE:        true,
	},
	// LinkedInはclient_secretをトークンリクエストのパラメータで受け取る。
	"linkedin": {
		Name:        "linkedin",
		DisplayName: "LinkedIn",
		AuthURL:     "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL:    "https://www.linkedin.com/oauth/v2/accessToken",
		UserInfoURL: "https://api.linkedin.com/v2/userinfo",
		Scopes:      []string{"openid", "profile", "email"},
		AuthStyle:   oauth2.AuthStyleInParams,
	},
}

// BuiltinProvider は対応IdPの設定にクライアント情報を埋めて返す。
func BuiltinProvider(name, clientID, clientSecret, redirectURL string) (ProviderConfig, error) {
	base, ok := builtinProviders[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unsupported provider: %s", name)
	}
	base.ClientID = clientID
	base.ClientSecret = clientSecret
	base.RedirectURL = redirectURL
	base.Scopes = append([]string(nil), base.Scopes...)
	return base, nil
}

// SupportedProviders は対応IdP名を名前順で返す。
func SupportedProviders() []string {
	names := make([]string, 0, len(builtinProviders))
	for name := range builtinProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// oauth2Config はProviderConfigからoauth2.Configを組み立てる。
func (c ProviderConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: c.AuthStyle,
		},
	}
}
