// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/middleware"
	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/session"
)

const (
	loginPath   = "/login"
	landingPath = "/"
)

// SessionSaver はセッションの変更をストアとCookieに反映する。
// session.Managerが満たす。
type SessionSaver interface {
	Save(ctx context.Context, w http.ResponseWriter, st *session.State) error
}

// LocalAuthenticator はユーザー名とパスワードによる認証を行う。
type LocalAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
}

// ProviderLister はログイン画面に表示するIdPの一覧を返す。
type ProviderLister interface {
	Links() []ProviderLink
}

// AuthHandler はローカルログイン・ログアウト・現在のユーザー取得のHTTPハンドラー。
type AuthHandler struct {
	sessions  SessionSaver
	auth      LocalAuthenticator
	providers ProviderLister
	pages     *Pages
	metrics   metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。providersとmcはnilでもよい。
func NewAuthHandler(sessions SessionSaver, auth LocalAuthenticator, providers ProviderLister, pages *Pages, mc metrics.MetricsCollector) *AuthHandler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &AuthHandler{
		sessions:  sessions,
		auth:      auth,
		providers: providers,
		pages:     pages,
		metrics:   mc,
	}
}

// LoginForm はログインフォームを表示する。
// GET /login
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	st, err := middleware.StateFromRequest(r)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	data := h.loginPage(st.Flashes())
	if st.Modified() {
		if err := h.sessions.Save(r.Context(), w, st); err != nil {
			slog.Error("failed to save session", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
	}
	h.pages.Render(w, r, http.StatusOK, "login.html", data)
}

// Login はユーザー名とパスワードで認証し、成功した場合はセッションにユーザーを格納する。
// 失敗した場合はフラッシュメッセージを設定してログインフォームに戻す。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	st, err := middleware.StateFromRequest(r)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := h.auth.Authenticate(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			h.metrics.RecordLogin(metrics.MethodLocal, metrics.OutcomeFailure)
			st.AddFlash(model.ErrInvalidCredentials.Error())
			saveAndRedirect(w, r, h.sessions, st, loginPath)
			return
		}
		h.metrics.RecordLogin(metrics.MethodLocal, metrics.OutcomeError)
		slog.Error("local login failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if err := st.SetUser(user); err != nil {
		h.metrics.RecordLogin(metrics.MethodLocal, metrics.OutcomeError)
		slog.Error("failed to sign in", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	h.metrics.RecordLogin(metrics.MethodLocal, metrics.OutcomeSuccess)
	slog.Info("local user logged in", slog.String("user_id", user.ID))
	saveAndRedirect(w, r, h.sessions, st, landingPath)
}

// Logout はセッションからユーザーを取り除き、トップページにリダイレクトする。
// 未ログインの状態で呼ばれても成功する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	st, err := middleware.StateFromRequest(r)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	if userID := st.UserID(); userID != "" {
		h.metrics.RecordLogout()
		slog.Info("user logged out", slog.String("user_id", userID))
	}
	st.Clear()
	saveAndRedirect(w, r, h.sessions, st, landingPath)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.CurrentUser(r)
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if user == nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"provider": user.Provider,
	})
}

func (h *AuthHandler) loginPage(flashes []string) PageData {
	data := PageData{Title: "Log in", Flashes: flashes}
	if h.providers != nil {
		data.Providers = h.providers.Links()
	}
	return data
}

// saveAndRedirect はセッションを保存してからtoへリダイレクトする。
func saveAndRedirect(w http.ResponseWriter, r *http.Request, sessions SessionSaver, st *session.State, to string) {
	if err := sessions.Save(r.Context(), w, st); err != nil {
		slog.Error("failed to save session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	http.Redirect(w, r, to, http.StatusFound)
}
