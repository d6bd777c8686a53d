package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/portcullis/internal/session"
)

// newTestChain はSession -> CSRF -> アクセス制御の構成をchi.Routerで組み立てる。
func newTestChain(t *testing.T, ts *testSessions) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(NewSessionMiddleware(ts.manager))
	r.Use(NewCSRFMiddleware(CSRFConfig{}))

	r.With(RequireAuth("/login")).Get("/", func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		w.Write([]byte("hello " + userID))
	})
	r.With(RedirectIfAuthenticated("/")).Get("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("login form"))
	})
	r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
		st, _ := StateFromRequest(r)
		st.Clear()
		if err := ts.manager.Save(r.Context(), w, st); err != nil {
			t.Errorf("Save: %v", err)
		}
		http.Redirect(w, r, "/", http.StatusFound)
	})
	return r
}

// TestMiddlewareChain_ProtectedRoute は認証済みセッションで保護ルートに到達できることを検証する。
func TestMiddlewareChain_ProtectedRoute(t *testing.T) {
	ts := newTestSessions(t)
	h := newTestChain(t, ts)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, ts.login(t, http.MethodGet, "/", "user-chain"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != "hello user-chain" {
		t.Errorf("body = %q", got)
	}
}

// TestMiddlewareChain_AnonymousRedirectsToLogin は未認証で保護ルートにアクセスするとログインへ誘導されることを検証する。
func TestMiddlewareChain_AnonymousRedirectsToLogin(t *testing.T) {
	ts := newTestSessions(t)
	h := newTestChain(t, ts)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
}

// TestMiddlewareChain_LogoutRequiresCSRFAndEndsSession はログアウトにCSRFトークンが必要で、
// 成功後はセッションが削除されることを検証する。
func TestMiddlewareChain_LogoutRequiresCSRFAndEndsSession(t *testing.T) {
	ts := newTestSessions(t)
	h := newTestChain(t, ts)

	// トークンなしのPOSTは403
	w := httptest.NewRecorder()
	h.ServeHTTP(w, ts.login(t, http.MethodPost, "/logout", "user-out"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status without CSRF token = %d, want %d", w.Code, http.StatusForbidden)
	}

	// トークン付きのPOSTは成功し、セッションCookieが削除される
	form := url.Values{CSRFFormField: {"tok"}}
	req := httptest.NewRequest(http.MethodPost, "/logout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "session-user-out"})
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	expired := false
	for _, c := range w.Result().Cookies() {
		if c.Name == session.DefaultCookieName && c.MaxAge < 0 {
			expired = true
		}
	}
	if !expired {
		t.Error("expected session cookie to be expired after logout")
	}
	if ts.sessions.Len() != 0 {
		t.Errorf("expected session record to be deleted, %d left", ts.sessions.Len())
	}

	// 同じCookieで保護ルートにアクセスするとログインへ誘導される
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "session-user-out"})
	h.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Errorf("status after logout = %d, want %d", w.Code, http.StatusFound)
	}
}

// TestMiddlewareChain_LoginPageRedirectsWhenAuthenticated はログイン済みでログイン画面に
// アクセスするとランディングへリダイレクトされることを検証する。
func TestMiddlewareChain_LoginPageRedirectsWhenAuthenticated(t *testing.T) {
	ts := newTestSessions(t)
	h := newTestChain(t, ts)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, ts.login(t, http.MethodGet, "/login", "user-again"))

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
}
