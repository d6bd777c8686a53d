package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/portcullis/internal/middleware"
)

// HomeHandler はログイン後のトップページ。
type HomeHandler struct {
	sessions SessionSaver
	pages    *Pages
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(sessions SessionSaver, pages *Pages) *HomeHandler {
	return &HomeHandler{sessions: sessions, pages: pages}
}

// Show はログイン中のユーザー情報を表示する。RequireAuthの内側で使う。
// GET /
func (h *HomeHandler) Show(w http.ResponseWriter, r *http.Request) {
	st, err := middleware.StateFromRequest(r)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	user, err := st.CurrentUser(r.Context())
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	data := PageData{Title: "Home", User: user, Flashes: st.Flashes()}
	if st.Modified() {
		if err := h.sessions.Save(r.Context(), w, st); err != nil {
			slog.Error("failed to save session", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
	}
	h.pages.Render(w, r, http.StatusOK, "home.html", data)
}
