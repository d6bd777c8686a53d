package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/middleware"
	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/oauth"
	"github.com/hitoshi/portcullis/internal/session"
)

// federatedFailureMessage はIdPとの連携に失敗した場合のフラッシュメッセージ。
const federatedFailureMessage = "Could not sign in with the selected provider"

// ProviderRegistry は利用可能なIdPを名前で引く。oauth.Registryが満たす。
type ProviderRegistry interface {
	Get(name string) (*oauth.Provider, error)
	Providers() []*oauth.Provider
}

// IdentityReconciler はIdPのアサーションをローカルユーザーに対応付ける。
type IdentityReconciler interface {
	Reconcile(ctx context.Context, a model.Assertion) (*model.User, error)
}

// OAuthHandlerConfig はOAuthハンドラーの設定。
type OAuthHandlerConfig struct {
	CookieSecure bool
}

// OAuthHandler は外部IdPによるログインのHTTPハンドラー。
type OAuthHandler struct {
	registry   ProviderRegistry
	codec      *oauth.StateCodec
	reconciler IdentityReconciler
	sessions   SessionSaver
	pages      *Pages
	metrics    metrics.MetricsCollector
	config     OAuthHandlerConfig
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(registry ProviderRegistry, codec *oauth.StateCodec, reconciler IdentityReconciler, sessions SessionSaver, pages *Pages, mc metrics.MetricsCollector, config OAuthHandlerConfig) *OAuthHandler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &OAuthHandler{
		registry:   registry,
		codec:      codec,
		reconciler: reconciler,
		sessions:   sessions,
		pages:      pages,
		metrics:    mc,
		config:     config,
	}
}

// Links はログイン画面に表示するIdPの一覧を返す。
func (h *OAuthHandler) Links() []ProviderLink {
	providers := h.registry.Providers()
	links := make([]ProviderLink, 0, len(providers))
	for _, p := range providers {
		links = append(links, ProviderLink{Name: p.Name(), DisplayName: p.DisplayName()})
	}
	return links
}

// Begin はIdPの認可エンドポイントへリダイレクトする。
// nonceとPKCE verifierはHttpOnly Cookieに保存する。
// GET /auth/{provider}
func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}

	authURL, flow, err := h.codec.Begin(p)
	if err != nil {
		slog.Error("failed to begin oauth flow",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, h.flowCookie(p.Name(), flow.Encode(), int(h.codec.TTL().Seconds())))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback はIdPからのコールバックを処理する。
// stateを検証して認可コードをアサーションに交換し、ローカルユーザーに対応付けてログインさせる。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	name := p.Name()

	st, err := middleware.StateFromRequest(r)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	// フローCookieは成否に関わらず1回で破棄する
	var cookieValue string
	if c, err := r.Cookie(oauth.FlowCookieName); err == nil {
		cookieValue = c.Value
	}
	http.SetCookie(w, h.flowCookie(name, "", -1))

	q := r.URL.Query()
	if idpErr := q.Get("error"); idpErr != "" {
		h.metrics.RecordLogin(name, metrics.OutcomeFailure)
		slog.Info("oauth authorization denied",
			slog.String("provider", name),
			slog.String("error", idpErr),
		)
		h.fail(w, r, st)
		return
	}

	flow, err := h.codec.Complete(p, q.Get("state"), cookieValue)
	if err != nil {
		h.metrics.RecordLogin(name, metrics.OutcomeFailure)
		slog.Warn("oauth state mismatch",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		h.fail(w, r, st)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.metrics.RecordLogin(name, metrics.OutcomeFailure)
		slog.Warn("missing authorization code", slog.String("provider", name))
		h.fail(w, r, st)
		return
	}

	assertion, err := p.Exchange(r.Context(), code, flow.Verifier)
	if err != nil {
		h.metrics.RecordLogin(name, metrics.OutcomeError)
		slog.Error("oauth exchange failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		h.fail(w, r, st)
		return
	}

	user, err := h.reconciler.Reconcile(r.Context(), *assertion)
	if err != nil {
		if ve, ok := model.AsValidationError(err); ok {
			h.metrics.RecordLogin(name, metrics.OutcomeFailure)
			data := PageData{
				Title:     "Log in",
				Errors:    ve.Messages(),
				Providers: h.Links(),
			}
			h.pages.Render(w, r, http.StatusUnprocessableEntity, "login.html", data)
			return
		}
		h.metrics.RecordLogin(name, metrics.OutcomeError)
		slog.Error("failed to reconcile identity",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if err := st.SetUser(user); err != nil {
		h.metrics.RecordLogin(name, metrics.OutcomeError)
		slog.Error("failed to sign in", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	h.metrics.RecordLogin(name, metrics.OutcomeSuccess)
	saveAndRedirect(w, r, h.sessions, st, landingPath)
}

// provider はURLパスのIdPを引く。未登録の場合は404を書き込んでfalseを返す。
func (h *OAuthHandler) provider(w http.ResponseWriter, r *http.Request) (*oauth.Provider, bool) {
	name := chi.URLParam(r, "provider")
	p, err := h.registry.Get(name)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			middleware.WriteAPIError(w, model.NewUnknownProviderError(name))
			return nil, false
		}
		slog.Error("failed to look up provider", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return p, true
}

// fail はフラッシュメッセージを設定してログインフォームに戻す。
func (h *OAuthHandler) fail(w http.ResponseWriter, r *http.Request, st *session.State) {
	st.AddFlash(federatedFailureMessage)
	saveAndRedirect(w, r, h.sessions, st, loginPath)
}

func (h *OAuthHandler) flowCookie(provider, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauth.FlowCookieName,
		Value:    value,
		Path:     "/auth/" + provider,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
