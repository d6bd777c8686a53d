package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/portcullis/internal/middleware"
	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Register はローカルユーザーを登録する。
	// 入力に問題がある場合は*model.ValidationErrorを返す。
	Register(ctx context.Context, in user.RegisterInput) (*model.User, error)
}

// UserHandler はローカルユーザー登録のHTTPハンドラー。
type UserHandler struct {
	service  UserServiceInterface
	sessions SessionSaver
	pages    *Pages
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, sessions SessionSaver, pages *Pages) *UserHandler {
	return &UserHandler{
		service:  service,
		sessions: sessions,
		pages:    pages,
	}
}

// SignupForm は登録フォームを表示する。
// GET /signup
func (h *UserHandler) SignupForm(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, r, http.StatusOK, "signup.html", PageData{Title: "Sign up"})
}

// Signup はユーザーを登録し、そのままログインさせる。
// 入力エラーの場合は422で登録フォームを再表示する。
// POST /signup
func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	st, err := middleware.StateFromRequest(r)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	in := user.RegisterInput{
		Username:             r.PostFormValue("username"),
		Email:                r.PostFormValue("email"),
		Password:             r.PostFormValue("password"),
		PasswordConfirmation: r.PostFormValue("password_confirmation"),
	}

	u, err := h.service.Register(r.Context(), in)
	if err != nil {
		if ve, ok := model.AsValidationError(err); ok {
			h.pages.Render(w, r, http.StatusUnprocessableEntity, "signup.html", PageData{
				Title:    "Sign up",
				Errors:   ve.Messages(),
				Username: in.Username,
				Email:    in.Email,
			})
			return
		}
		slog.Error("signup failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if err := st.SetUser(u); err != nil {
		slog.Error("failed to sign in", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	saveAndRedirect(w, r, h.sessions, st, landingPath)
}
