package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ecomlabs/toolsportal/internal/middleware"
	"github.com/ecomlabs/toolsportal/internal/view"
)

// HealthChecker はDB等の依存先への疎通を確認する。*sql.DB が実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// PageHandler はツールを持たない画面とヘルスチェックのハンドラー。
type PageHandler struct {
	renderer view.Renderer
	health   HealthChecker
}

// NewPageHandler はPageHandlerを生成する。healthがnilの場合は常に正常を返す。
func NewPageHandler(renderer view.Renderer, health HealthChecker) *PageHandler {
	return &PageHandler{renderer: renderer, health: health}
}

// Dashboard はサインイン後のトップページを表示する。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, view.PageDashboard, view.DashboardPage{Page: pageData(r)})
}

// Root は / をダッシュボードへ転送する。
func (h *PageHandler) Root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// Forbidden は403ページを直接表示する。
// GET /forbidden
func (h *PageHandler) Forbidden(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusForbidden, view.PageForbidden, view.ForbiddenPage{Page: pageData(r)})
}

// Health はヘルスチェック結果を返す。
// GET /health
func (h *PageHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}

	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	if err := h.renderer.Render(w, status, page, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", page),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// pageData はゲートが解決したプロフィールとCSRFトークンからレイアウトデータを作る。
func pageData(r *http.Request) view.Page {
	return view.Page{
		Profile:   middleware.ProfileFromContext(r.Context()),
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	}
}
