// Package view はブラウザ向けHTMLページを埋め込みテンプレートから描画する。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/hitoshi/usergate/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*.css
var staticFS embed.FS

// テンプレート名
const (
	PageHome    = "home.html"
	PageWelcome = "welcome.html"
	PageError   = "error.html"
)

// WelcomeData はwelcomeページに渡す値。
type WelcomeData struct {
	User *model.UserInfo
}

// ErrorData はエラーページに渡す値。
type ErrorData struct {
	Error string
}

// Renderer は埋め込みテンプレートを保持する。
type Renderer struct {
	templates *template.Template
}

// NewRenderer は埋め込みテンプレートを読み込んだRendererを生成する。
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

// Render は指定テンプレートを描画してstatusで返す。
// 描画に失敗した場合は何も書き込まずに500を返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// StaticHandler は埋め込み静的ファイルを配信するハンドラーを返す。
// /static/ 配下にマウントすることを想定する。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
