package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ecomlabs/toolsportal/internal/metrics"
	"github.com/ecomlabs/toolsportal/internal/middleware"
	"github.com/ecomlabs/toolsportal/internal/view"
)

// TranscriptStore はops chatの履歴の読み書きとサインアウト時の破棄を行う。
type TranscriptStore interface {
	ChatStore
	TranscriptClearer
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	Gate              middleware.GateConfig
	Sessions          middleware.SessionManager
	Profiles          middleware.ProfileEnsurer
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合は /metrics を公開しない

	// 画面
	Renderer      view.Renderer
	HealthChecker HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ops status
	OpsStatus   *OpsStatusRunner
	Transcripts TranscriptStore
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → StatusRecorder → CORS → CSRF → Gate → RateLimit
//
// アクセス制御はゲートがパス単位で行うため、ルートはすべて同じチェーンの内側に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRF.CookieSecure))
	r.Use(metrics.StatusRecorder(collector))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
	r.Use(middleware.NewGateMiddleware(deps.Gate, deps.Sessions, deps.Profiles, deps.Renderer, collector))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Transcripts, deps.Renderer, deps.AuthConfig)
	pageHandler := NewPageHandler(deps.Renderer, deps.HealthChecker)
	statusHandler := NewOpsStatusHandler(deps.OpsStatus)
	chatHandler := NewOpsChatHandler(deps.OpsStatus, deps.Transcripts, deps.Renderer)

	// --- 公開ルート ---
	r.Get("/health", pageHandler.Health)
	r.Handle("/static/*", view.StaticHandler())
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Get("/login", authHandler.LoginPage)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
	})

	// ロールはハンドラー側で検査する
	r.Get("/api/ops/clickup/status", statusHandler.GetStatus)

	// --- 認証が必要なルート ---
	r.Get("/", pageHandler.Root)
	r.Get("/dashboard", pageHandler.Dashboard)
	r.Get("/forbidden", pageHandler.Forbidden)

	// --- 管理者のみ（ゲートで検査） ---
	r.Route("/tools/ops", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, opsChatPath, http.StatusSeeOther)
		})
		r.Get("/chat", chatHandler.Show)
		r.Post("/chat", chatHandler.Send)
	})

	return r
}
