package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/portcullis/internal/middleware"
	"github.com/hitoshi/portcullis/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ProviderLink はログイン画面に表示するIdPへのリンク。
type ProviderLink struct {
	Name        string
	DisplayName string
}

// PageData はHTMLテンプレートに渡す値。
type PageData struct {
	Title     string
	CSRFToken string
	Flashes   []string
	Errors    []string
	User      *model.User
	Providers []ProviderLink

	// フォームの再表示用。パスワードは保持しない。
	Username string
	Email    string
}

// Pages は埋め込みテンプレートからHTMLページを描画する。
type Pages struct {
	tmpl *template.Template
}

// NewPages は埋め込みテンプレートを解析してPagesを生成する。
func NewPages() (*Pages, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Pages{tmpl: tmpl}, nil
}

// MustNewPages はNewPagesを呼び、失敗した場合はpanicする。
func MustNewPages() *Pages {
	p, err := NewPages()
	if err != nil {
		panic(err)
	}
	return p
}

// Render はnameのテンプレートをstatusで描画する。
// 描画に失敗した場合はレスポンスを書き込む前に500を返す。
func (p *Pages) Render(w http.ResponseWriter, r *http.Request, status int, name string, data PageData) {
	if data.CSRFToken == "" {
		data.CSRFToken = middleware.CSRFToken(r)
	}

	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
