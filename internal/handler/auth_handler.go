// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ecomlabs/toolsportal/internal/auth"
	"github.com/ecomlabs/toolsportal/internal/middleware"
	"github.com/ecomlabs/toolsportal/internal/model"
	"github.com/ecomlabs/toolsportal/internal/view"
)

const (
	oauthStateCookie = "oauth_state"
	oauthNextCookie  = "oauth_next"

	// defaultNextPath はサインイン後の既定の遷移先。
	defaultNextPath = "/dashboard"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	SessionMaxAge() time.Duration
}

// TranscriptClearer はサインアウト時にチャット履歴を破棄する。
type TranscriptClearer interface {
	Clear(sessionID string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	AllowedEmailDomain string
	Cookie             middleware.CookieConfig
}

// AuthHandler はサインインページとOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service     AuthServiceInterface
	transcripts TranscriptClearer
	renderer    view.Renderer
	config      AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。transcriptsはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, transcripts TranscriptClearer, renderer view.Renderer, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:     service,
		transcripts: transcripts,
		renderer:    renderer,
		config:      config,
	}
}

// LoginPage はサインインページを表示する。
// GET /login?error=domain&next=/tools/ops/chat
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	data := view.LoginPage{
		Page: view.Page{CSRFToken: middleware.CSRFTokenFromContext(r.Context())},
		Next: safeNextPath(r.URL.Query().Get("next"), ""),
	}
	if r.URL.Query().Get("error") == "domain" {
		data.ErrorMessage = view.DomainErrorMessage(h.config.AllowedEmailDomain)
	}

	if err := h.renderer.Render(w, http.StatusOK, view.PageLogin, data); err != nil {
		slog.Error("failed to render login page", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/login?next=/dashboard
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setFlowCookie(w, oauthStateCookie, state, 600)

	if next := safeNextPath(r.URL.Query().Get("next"), ""); next != "" {
		h.setFlowCookie(w, oauthNextCookie, url.QueryEscape(next), 600)
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}
	h.setFlowCookie(w, oauthStateCookie, "", -1)

	next := defaultNextPath
	if c, err := r.Cookie(oauthNextCookie); err == nil && c.Value != "" {
		if raw, err := url.QueryUnescape(c.Value); err == nil {
			next = safeNextPath(raw, defaultNextPath)
		}
		h.setFlowCookie(w, oauthNextCookie, "", -1)
	}
	if q := r.URL.Query().Get("next"); q != "" {
		next = safeNextPath(q, next)
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	// 3. 認証処理
	session, err := h.service.HandleCallback(r.Context(), code)
	switch {
	case errors.Is(err, auth.ErrDomainNotAllowed):
		slog.Warn("sign-in rejected: email domain not allowed")
		middleware.ClearSessionCookie(w, h.config.Cookie)
		http.Redirect(w, r, "/login?error=domain", http.StatusSeeOther)
		return
	case errors.Is(err, auth.ErrMissingUser):
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	case err != nil:
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	middleware.SetSessionCookie(w, h.config.Cookie, session.ID, h.service.SessionMaxAge())

	// 5. 元のページにリダイレクト
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.SessionIDFromRequest(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
		if h.transcripts != nil {
			h.transcripts.Clear(sessionID)
		}
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// setFlowCookie はOAuthフロー中だけ使う短命なCookieを設定する。maxAgeが負の場合は削除する。
func (h *AuthHandler) setFlowCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// safeNextPath はオープンリダイレクトを防ぐため、サイト内の絶対パスのみを受け付ける。
// それ以外はfallbackを返す。
func safeNextPath(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return next
}
