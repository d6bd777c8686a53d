package oauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// stateIssuer はstateトークンのiss。
const stateIssuer = "portcullis"

// DefaultStateTTL はstateトークンの既定の有効期間。
const DefaultStateTTL = 10 * time.Minute

// ErrInvalidState はstateの検証に失敗した場合のエラー。
var ErrInvalidState = errors.New("invalid oauth state")

// StateClaims はstateトークンのクレーム。
type StateClaims struct {
	Provider string `json:"prv"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// StateCodec はOAuthのstateパラメータをHS256署名付きJWTとして発行・検証する。
// nonceはブラウザのCookieにも保存し、コールバック時に照合する。
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec はStateCodecを生成する。
func NewStateCodec(secret []byte, ttl time.Duration) *StateCodec {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateCodec{secret: secret, ttl: ttl, now: time.Now}
}

// TTL はstateトークンの有効期間を返す。
func (c *StateCodec) TTL() time.Duration {
	return c.ttl
}

// Issue はIdP向けのstateトークンと、Cookieに保存するnonceを生成する。
func (c *StateCodec) Issue(provider string) (state, nonce string, err error) {
	nonce, err = randomString(16)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := c.now()
	claims := &StateClaims{
		Provider: provider,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	state, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state: %w", err)
	}
	return state, nonce, nil
}

// Verify はstateトークンの署名・有効期限・IdP名・nonceを検証する。
func (c *StateCodec) Verify(state, provider, nonce string) error {
	var claims StateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if claims.Provider != provider {
		return fmt.Errorf("%w: provider mismatch", ErrInvalidState)
	}
	if nonce == "" || subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(nonce)) != 1 {
		return fmt.Errorf("%w: nonce mismatch", ErrInvalidState)
	}
	return nil
}

// randomString はURLセーフなランダム文字列を生成する。
func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
