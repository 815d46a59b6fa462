package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/shopadmin/internal/middleware"
	"github.com/hitoshi/shopadmin/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページテンプレート名。
const (
	pageLogin         = "login.html"
	pageDevLogin      = "dev_login.html"
	pageDashboard     = "dashboard.html"
	pageAdminActivity = "admin_activity.html"
)

// pages は起動時にパースしたページテンプレート。
// 各ページはlayout.htmlと組み合わせて個別にパースする（"content"ブロックの衝突を避けるため）。
var pages = mustParsePages(pageLogin, pageDevLogin, pageDashboard, pageAdminActivity)

func mustParsePages(names ...string) map[string]*template.Template {
	m := make(map[string]*template.Template, len(names))
	for _, name := range names {
		m[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return m
}

// pageData は全ページ共通のテンプレートデータ。
type pageData struct {
	Identity  *model.Identity
	CSRFToken string
}

// renderPage はテンプレートをバッファに描画してからレスポンスに書き込む。
// 描画に失敗した場合は途中までのHTMLを返さず500にする。
func renderPage(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := pages[name]
	if !ok {
		slog.Error("unknown page template", slog.String("template", name))
		middleware.WriteInternalServerError(w)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render page",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
