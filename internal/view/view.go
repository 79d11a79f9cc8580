// Package view はHTMLページの描画を提供する。
// テンプレートと静的ファイルはバイナリに埋め込まれる。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/ecomlabs/toolsportal/internal/chat"
	"github.com/ecomlabs/toolsportal/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// ページ名。
const (
	PageLogin     = "login"
	PageDashboard = "dashboard"
	PageForbidden = "forbidden"
	PageOpsChat   = "ops_chat"
)

var pageNames = []string{PageLogin, PageDashboard, PageForbidden, PageOpsChat}

// Renderer はページをHTTPレスポンスとして描画する。
type Renderer interface {
	Render(w http.ResponseWriter, status int, page string, data any) error
}

// Page は全ページ共通のレイアウトデータ。
// Profileがnilの場合はナビゲーションを表示しない。
type Page struct {
	Profile   *model.Profile
	CSRFToken string
}

// LoginPage はサインインページのデータ。
type LoginPage struct {
	Page
	ErrorMessage string
	Next         string
}

// DashboardPage はダッシュボードのデータ。
type DashboardPage struct {
	Page
}

// ForbiddenPage は403ページのデータ。
type ForbiddenPage struct {
	Page
}

// OpsChatPage はops chatページのデータ。
type OpsChatPage struct {
	Page
	Messages []chat.Message
	Summary  *model.OpsStatusSummary
}

// DomainErrorMessage はドメイン外アカウントでサインインした場合の案内文を返す。
func DomainErrorMessage(domain string) string {
	return fmt.Sprintf("Please sign in with your @%s Google account.", domain)
}

// HTMLRenderer はhtml/templateによるRenderer実装。
type HTMLRenderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"greeting":  greeting,
	"assignees": assignees,
	"hours":     hours,
}

// NewHTMLRenderer は埋め込みテンプレートを読み込みHTMLRendererを生成する。
func NewHTMLRenderer() (*HTMLRenderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html",
			"templates/components.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &HTMLRenderer{pages: pages}, nil
}

// Render はページをバッファに描画してからレスポンスに書き込む。
// 描画に失敗した場合はレスポンスに何も書き込まずエラーを返す。
func (r *HTMLRenderer) Render(w http.ResponseWriter, status int, page string, data any) error {
	tmpl, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page: %s", page)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// StaticHandler は埋め込み静的ファイルを /static/ 配下で配信するハンドラーを返す。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("failed to open embedded static files: %v", err))
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

func greeting(p *model.Profile) string {
	if p == nil {
		return "there"
	}
	return p.Label()
}

func assignees(names []string) string {
	if len(names) == 0 {
		return "Unassigned"
	}
	return strings.Join(names, ", ")
}

func hours(h *float64) string {
	if h == nil {
		return ""
	}
	return fmt.Sprintf("%.1f", *h)
}

// compile-time interface check
var _ Renderer = (*HTMLRenderer)(nil)
