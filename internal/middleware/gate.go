package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ecomlabs/toolsportal/internal/metrics"
	"github.com/ecomlabs/toolsportal/internal/model"
	"github.com/ecomlabs/toolsportal/internal/view"
)

// DefaultPublicPaths は認証なしで到達できるパス。各パスの配下も含む。
// ステータスAPIはハンドラー側でロールを検査する。
var DefaultPublicPaths = []string{
	"/login",
	"/auth/login",
	"/auth/callback",
	"/static",
	"/favicon.ico",
	"/health",
	"/metrics",
	"/api/ops/clickup/status",
}

// DefaultAdminPaths は管理者ロールのみが到達できるパス。各パスの配下も含む。
var DefaultAdminPaths = []string{"/tools/ops"}

// SessionManager はゲートが使うセッション操作。auth.Service が実装する。
type SessionManager interface {
	FindSession(ctx context.Context, sessionID string) (*model.Session, error)
	RefreshSession(ctx context.Context, session *model.Session) (bool, error)
	LogoutAll(ctx context.Context, userID string) error
	SessionMaxAge() time.Duration
}

// ProfileEnsurer はセッションのプロフィールを取得し、なければ作成する。auth.Service が実装する。
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, session *model.Session) (*model.ProfileRecord, error)
}

// GateConfig はアクセスゲートの設定。
type GateConfig struct {
	AllowedEmailDomain string
	Cookie             CookieConfig
	PublicPaths        []string // 空の場合はDefaultPublicPaths
	AdminPaths         []string // 空の場合はDefaultAdminPaths
}

type gate struct {
	config   GateConfig
	sessions SessionManager
	profiles ProfileEnsurer
	renderer view.Renderer
	metrics  metrics.MetricsCollector
}

// NewGateMiddleware はすべてのリクエストに適用するアクセスゲートを返す。
//
// 判定順:
//  1. 公開パスは通過させる。有効なセッションで /login に来た場合は /dashboard へリダイレクトする。
//  2. セッションがなければ /login へリダイレクトする。
//  3. セッションのメールアドレスが許可ドメイン外なら、そのプロフィールの全セッションを破棄して
//     /login?error=domain へリダイレクトする。
//  4. プロフィールがなければmemberとして作成する。
//  5. 管理者パスでroleがadminでなければ、元のURLのまま403ページを描画する。
//  6. それ以外は通過させる。
//
// セッションの延長で発行したCookieはどの分岐でもレスポンスに含まれる。
// DBに保存されたroleが不明な値の場合はmemberとして扱う。
func NewGateMiddleware(
	config GateConfig,
	sessions SessionManager,
	profiles ProfileEnsurer,
	renderer view.Renderer,
	collector metrics.MetricsCollector,
) func(next http.Handler) http.Handler {
	if len(config.PublicPaths) == 0 {
		config.PublicPaths = DefaultPublicPaths
	}
	if len(config.AdminPaths) == 0 {
		config.AdminPaths = DefaultAdminPaths
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	g := &gate{
		config:   config,
		sessions: sessions,
		profiles: profiles,
		renderer: renderer,
		metrics:  collector,
	}
	return g.middleware
}

func (g *gate) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		path := r.URL.Path
		session := g.loadSession(w, r)

		// 1. 公開パス
		if matchPath(path, g.config.PublicPaths) {
			if session != nil && model.HasAllowedDomain(session.Email, g.config.AllowedEmailDomain) {
				if strings.HasPrefix(path, "/login") {
					g.metrics.RecordGateDecision(metrics.DecisionAllowed)
					http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
					return
				}
				ctx = ContextWithSession(ctx, session)
			}
			g.metrics.RecordGateDecision(metrics.DecisionPublic)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// 2. 未認証
		if session == nil {
			g.metrics.RecordGateDecision(metrics.DecisionRedirect)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		// 3. ドメイン検証
		if !model.HasAllowedDomain(session.Email, g.config.AllowedEmailDomain) {
			slog.Warn("session rejected: email domain not allowed",
				slog.String("user_id", session.UserID),
				slog.String("email", session.Email),
			)
			if err := g.sessions.LogoutAll(ctx, session.UserID); err != nil {
				slog.Error("failed to sign out rejected sessions", slog.String("error", err.Error()))
			}
			ClearSessionCookie(w, g.config.Cookie)
			g.metrics.RecordGateDecision(metrics.DecisionDomainReject)
			http.Redirect(w, r, "/login?error=domain", http.StatusSeeOther)
			return
		}

		// 4. プロフィールの取得・作成
		record, err := g.profiles.EnsureProfile(ctx, session)
		if err != nil || record == nil {
			slog.Error("failed to ensure profile",
				slog.String("user_id", session.UserID),
				slog.Any("error", err),
			)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		profile := record.ToProfile()
		setLogUserID(ctx, profile.ID)
		ctx = ContextWithProfile(ContextWithSession(ctx, session), profile)

		// 5. ロール判定
		if matchPath(path, g.config.AdminPaths) && profile.Role != model.RoleAdmin {
			g.metrics.RecordGateDecision(metrics.DecisionForbidden)
			data := view.ForbiddenPage{Page: view.Page{Profile: profile, CSRFToken: CSRFTokenFromContext(ctx)}}
			if err := g.renderer.Render(w, http.StatusForbidden, view.PageForbidden, data); err != nil {
				slog.Error("failed to render forbidden page", slog.String("error", err.Error()))
				http.Error(w, "forbidden", http.StatusForbidden)
			}
			return
		}

		// 6. 通過
		g.metrics.RecordGateDecision(metrics.DecisionAllowed)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loadSession はCookieのセッションを取得し、必要なら有効期限を延長してCookieを再発行する。
// 取得できない場合はnilを返す。
func (g *gate) loadSession(w http.ResponseWriter, r *http.Request) *model.Session {
	sessionID := SessionIDFromRequest(r)
	if sessionID == "" {
		return nil
	}

	session, err := g.sessions.FindSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to find session", slog.String("error", err.Error()))
		return nil
	}
	if session == nil {
		return nil
	}

	if model.HasAllowedDomain(session.Email, g.config.AllowedEmailDomain) {
		refreshed, err := g.sessions.RefreshSession(r.Context(), session)
		if err != nil {
			slog.Warn("failed to refresh session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		} else if refreshed {
			SetSessionCookie(w, g.config.Cookie, session.ID, g.sessions.SessionMaxAge())
		}
	}
	return session
}

// matchPath はpathがprefixesのいずれかと一致するか、その配下にあるかを返す。
func matchPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}
