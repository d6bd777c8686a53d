// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/session"
)

// ErrNoSession はリクエストコンテキストにセッションが存在しないことを表す。
var ErrNoSession = errors.New("session not found in context")

// SessionLoader はリクエストからセッションを読み込むインターフェース。
// session.Managerが実装する。
type SessionLoader interface {
	LoadRequest(r *http.Request) (*session.State, error)
}

// NewSessionMiddleware はCookieのセッショントークンからセッションを読み込み、
// *session.Stateとしてリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、または期限切れの場合は未認証の新しいセッションを注入する。
// 認証の要否はRequireAuthが判定するため、ここでは拒否しない。
func NewSessionMiddleware(loader SessionLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, err := loader.LoadRequest(r)
			if err != nil {
				slog.Error("failed to load session",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
				return
			}

			ctx := session.NewContext(r.Context(), st)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StateFromRequest はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func StateFromRequest(r *http.Request) (*session.State, error) {
	st := session.FromContext(r.Context())
	if st == nil {
		return nil, ErrNoSession
	}
	return st, nil
}

// UserIDFromContext はリクエストコンテキストのセッションに格納されたユーザーIDを取得する。
// 未認証の場合はエラーを返す。ユーザーの実在は確認しない。
func UserIDFromContext(ctx context.Context) (string, error) {
	st := session.FromContext(ctx)
	if st == nil {
		return "", ErrNoSession
	}
	if st.UserID() == "" {
		return "", errors.New("user ID not found in session")
	}
	return st.UserID(), nil
}

// CurrentUser はリクエストのセッションに紐づくユーザーを返す。未認証の場合はnil。
func CurrentUser(r *http.Request) (*model.User, error) {
	st, err := StateFromRequest(r)
	if err != nil {
		return nil, err
	}
	return st.CurrentUser(r.Context())
}
