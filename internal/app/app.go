package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ecomlabs/toolsportal/internal/auth"
	"github.com/ecomlabs/toolsportal/internal/chat"
	"github.com/ecomlabs/toolsportal/internal/clickup"
	"github.com/ecomlabs/toolsportal/internal/config"
	"github.com/ecomlabs/toolsportal/internal/database"
	"github.com/ecomlabs/toolsportal/internal/handler"
	"github.com/ecomlabs/toolsportal/internal/logger"
	"github.com/ecomlabs/toolsportal/internal/metrics"
	"github.com/ecomlabs/toolsportal/internal/middleware"
	"github.com/ecomlabs/toolsportal/internal/opsstatus"
	"github.com/ecomlabs/toolsportal/internal/ratelimit"
	"github.com/ecomlabs/toolsportal/internal/repository"
	"github.com/ecomlabs/toolsportal/internal/security"
	"github.com/ecomlabs/toolsportal/internal/view"
	"github.com/ecomlabs/toolsportal/internal/worker/cleanup"
)

const (
	dbPingTimeout        = 5 * time.Second
	clickUpTimeout       = 15 * time.Second
	sessionCleanupPeriod = 24 * time.Hour
	rateLimitKeyPrefix   = "toolsportal:ratelimit:"
)

// Init はアプリケーションの初期化を行う。
// 環境変数（と .env）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .env でLOG_LEVELが指定された場合に備えて再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// portal は組み立て済みのHTTPハンドラーと、停止時に解放するリソースを保持する。
type portal struct {
	handler http.Handler
	closers []func()
}

// Close は確保したリソースを逆順に解放する。
func (p *portal) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// newPortal は設定とDB接続から全依存関係をワイヤリングする。
// DBへの接続確認は行わないため、呼び出し側で事前にPingすること。
func newPortal(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*portal, error) {
	p := &portal{}

	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. リポジトリ
	profileRepo := repository.NewPostgresProfileRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. 認証
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, profileRepo, identRepo, sessionRepo,
		auth.ServiceConfig{
			SessionMaxAge:      cfg.SessionMaxAge,
			AllowedEmailDomain: cfg.AllowedEmailDomain,
		},
		collector,
	)

	// 4. ツール単位のレート制限
	store, err := newRateLimitStore(cfg, p)
	if err != nil {
		return nil, err
	}
	statusLimiter := ratelimit.NewFixedWindow(store, cfg.RateLimitStatusMax, cfg.RateLimitStatusWindow)

	// 5. ステータス集計
	sanitizer := security.NewTextSanitizer()
	source, err := newStatusSource(cfg, sanitizer)
	if err != nil {
		p.Close()
		return nil, err
	}
	statusService := opsstatus.NewService(source, collector)
	runner := handler.NewOpsStatusRunner(profileRepo, statusLimiter, statusService, collector)

	// 6. 画面
	renderer, err := view.NewHTMLRenderer()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	generalLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral), collector)
	p.closers = append(p.closers, generalLimiter.Stop)

	cookie := middleware.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}

	// 7. ルーター
	p.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF:              middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cfg.CookieDomain},
		Gate: middleware.GateConfig{
			AllowedEmailDomain: cfg.AllowedEmailDomain,
			Cookie:             cookie,
		},
		Sessions:       authService,
		Profiles:       authService,
		RateLimiter:    generalLimiter,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		Renderer:       renderer,
		HealthChecker:  db,
		AuthService:    authService,
		AuthConfig: handler.AuthHandlerConfig{
			AllowedEmailDomain: cfg.AllowedEmailDomain,
			Cookie:             cookie,
		},
		OpsStatus:   runner,
		Transcripts: chat.NewStore(chat.DefaultMaxMessages, chat.DefaultMaxSessions, sanitizer),
	})

	slog.Info("portal wired",
		slog.String("status_source", statusService.SourceName()),
		slog.Int("status_rate_limit_max", cfg.RateLimitStatusMax),
		slog.Duration("status_rate_limit_window", cfg.RateLimitStatusWindow),
		slog.String("allowed_email_domain", cfg.AllowedEmailDomain),
	)

	return p, nil
}

// newRateLimitStore はREDIS_URLが設定されていればRedis、なければプロセス内メモリのストアを返す。
// 解放処理はpに登録する。
func newRateLimitStore(cfg *config.Config, p *portal) (ratelimit.Store, error) {
	if cfg.RedisURL == "" {
		store := ratelimit.NewMemoryStore(time.Minute)
		p.closers = append(p.closers, store.Stop)
		return store, nil
	}

	client, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	p.closers = append(p.closers, func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	})
	return ratelimit.NewRedisStore(client, rateLimitKeyPrefix), nil
}

// newStatusSource はClickUpの認証情報があればClickUp、なければフィクスチャのデータソースを返す。
func newStatusSource(cfg *config.Config, sanitizer security.TextSanitizer) (opsstatus.Source, error) {
	if !cfg.ClickUpEnabled() {
		slog.Warn("ClickUp credentials are not set, using fixture status data")
		return opsstatus.NewFixtureSource(), nil
	}

	guard := security.NewOutboundGuard()
	if err := guard.ValidateBaseURL(cfg.ClickUpBaseURL); err != nil {
		return nil, fmt.Errorf("invalid CLICKUP_BASE_URL: %w", err)
	}

	client, err := clickup.NewClient(cfg.ClickUpAPIToken,
		clickup.WithBaseURL(cfg.ClickUpBaseURL),
		clickup.WithHTTPClient(guard.NewSafeClient(clickUpTimeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ClickUp client: %w", err)
	}
	return opsstatus.NewClickUpSource(client, cfg.ClickUpTeamID, cfg.ClickUpExpectedHours, sanitizer), nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はGoランタイムとプロセスのメトリクスを含むレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はポータルサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	p, err := newPortal(cfg, db, newRegistry())
	if err != nil {
		return err
	}
	defer p.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      p.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("portal server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down portal server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("portal server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting", slog.Duration("session_cleanup_interval", sessionCleanupPeriod))

	cleanup.NewCleanupJob(db, slog.Default()).Start(ctx, sessionCleanupPeriod)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if version, dirty, err := database.SchemaVersion(cfg.DatabaseURL); err == nil {
		slog.Info("database migrations completed successfully",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
