package middleware

import (
	"log/slog"
	"net/http"
)

// RequireAuth は認証済みのリクエストのみを通過させるミドルウェアを返す。
// 未認証の場合はloginPathへ302でリダイレクトし、後続のハンドラーは実行しない。
// セッションに残ったユーザーIDが既に削除されたユーザーを指す場合も未認証として扱う。
func RequireAuth(loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := isAuthenticated(r)
			if err != nil {
				slog.Error("failed to resolve current user",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
				return
			}
			if !ok {
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RedirectIfAuthenticated は認証済みのリクエストをlandingPathへ302でリダイレクトする
// ミドルウェアを返す。ログイン画面など未認証ユーザー向けのルートに適用する。
func RedirectIfAuthenticated(landingPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := isAuthenticated(r)
			if err != nil {
				slog.Error("failed to resolve current user",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
				return
			}
			if ok {
				http.Redirect(w, r, landingPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isAuthenticated はリクエストのセッションが実在するユーザーに紐づくかを返す。
// セッションミドルウェアを通過していないリクエストは未認証とみなす。
func isAuthenticated(r *http.Request) (bool, error) {
	st, err := StateFromRequest(r)
	if err != nil {
		return false, nil
	}
	return st.IsAuthenticated(r.Context())
}
