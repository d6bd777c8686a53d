package oauth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// FlowCookieName は認可フロー中のnonceとPKCE verifierを保持するCookie名。
const FlowCookieName = "oauth_flow"

// Flow は認可リクエストからコールバックまでブラウザ側で保持する値。
type Flow struct {
	Nonce    string
	Verifier string
}

// Encode はCookieに保存する文字列を返す。
func (f Flow) Encode() string {
	return f.Nonce + "." + f.Verifier
}

// DecodeFlow はCookieの値からFlowを復元する。
func DecodeFlow(value string) (Flow, error) {
	nonce, verifier, ok := strings.Cut(value, ".")
	if !ok || nonce == "" {
		return Flow{}, errors.New("malformed oauth flow cookie")
	}
	return Flow{Nonce: nonce, Verifier: verifier}, nil
}

// Begin はstate・nonce・PKCE verifierを生成し、IdPの認可URLとFlowを返す。
func (c *StateCodec) Begin(p *Provider) (string, Flow, error) {
	state, nonce, err := c.Issue(p.Name())
	if err != nil {
		return "", Flow{}, err
	}
	flow := Flow{Nonce: nonce}
	if p.UsesPKCE() {
		flow.Verifier = oauth2.GenerateVerifier()
	}
	return p.AuthCodeURL(state, flow.Verifier), flow, nil
}

// Complete はコールバックのstateを検証し、認可コードをアサーションに交換する準備ができたFlowを返す。
func (c *StateCodec) Complete(p *Provider, state, cookieValue string) (Flow, error) {
	flow, err := DecodeFlow(cookieValue)
	if err != nil {
		return Flow{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := c.Verify(state, p.Name(), flow.Nonce); err != nil {
		return Flow{}, err
	}
	return flow, nil
}
