package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/security"
)

// maxProfileSize はユーザー情報レスポンスの最大サイズ。
const maxProfileSize = 1 << 20

// Provider は1つの外部IdPとの認可コードフローを扱う。
type Provider struct {
	config    ProviderConfig
	oauth     *oauth2.Config
	decode    profileDecoder
	client    *http.Client
	sanitizer security.TextSanitizerService
	metrics   metrics.MetricsCollector
}

// Name はIdP名（URLパスやUser.Providerに使われる識別子）を返す。
func (p *Provider) Name() string {
	return p.config.Name
}

// DisplayName はログイン画面に表示するIdP名を返す。
func (p *Provider) DisplayName() string {
	return p.config.DisplayName
}

// UsesPKCE はPKCEを使用するかを返す。
func (p *Provider) UsesPKCE() bool {
	return p.config.PKCE
}

// AuthCodeURL はIdPの認可エンドポイントへのリダイレクトURLを返す。
// verifierはPKCEを使用しないIdPでは無視される。
func (p *Provider) AuthCodeURL(state, verifier string) string {
	var opts []oauth2.AuthCodeOption
	if p.config.PKCE && verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return p.oauth.AuthCodeURL(state, opts...)
}

// Exchange は認可コードをトークンに交換し、ユーザー情報を取得してアサーションを返す。
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*model.Assertion, error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordProviderLatency(p.config.Name, time.Since(start))
	}()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	var opts []oauth2.AuthCodeOption
	if p.config.PKCE {
		if verifier == "" {
			return nil, fmt.Errorf("missing PKCE verifier for %s", p.config.Name)
		}
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	token, err := p.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	body, err := p.fetch(ctx, token, p.config.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	prof, err := p.decode(body)
	if err != nil {
		return nil, err
	}
	if prof.ID == "" {
		return nil, errors.New("empty user id in user info response")
	}
	if prof.Email == "" && p.config.EmailsURL != "" {
		prof.Email = p.lookupEmail(ctx, token)
	}

	return &model.Assertion{
		Provider:    p.config.Name,
		ExternalUID: prof.ID,
		DisplayName: p.sanitizer.SanitizeText(prof.Name),
		Email:       prof.Email,
		Nickname:    p.sanitizer.SanitizeText(prof.Nickname),
	}, nil
}

// lookupEmail はメールアドレス一覧エンドポイントから確認済みのアドレスを取得する。
// 取得できなくてもログインは継続し、メールアドレスなしとして扱う。
func (p *Provider) lookupEmail(ctx context.Context, token *oauth2.Token) string {
	body, err := p.fetch(ctx, token, p.config.EmailsURL)
	if err != nil {
		slog.Warn("failed to fetch provider emails",
			slog.String("provider", p.config.Name),
			slog.String("error", err.Error()),
		)
		return ""
	}
	email, err := decodeGitHubEmails(body)
	if err != nil {
		slog.Warn("failed to parse provider emails",
			slog.String("provider", p.config.Name),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return email
}

// fetch はアクセストークン付きでIdPのAPIをGETし、レスポンスボディを返す。
func (p *Provider) fetch(ctx context.Context, token *oauth2.Token, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
