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

	"github.com/hitoshi/portcullis/internal/auth"
	"github.com/hitoshi/portcullis/internal/config"
	"github.com/hitoshi/portcullis/internal/database"
	"github.com/hitoshi/portcullis/internal/handler"
	"github.com/hitoshi/portcullis/internal/logger"
	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/middleware"
	"github.com/hitoshi/portcullis/internal/oauth"
	"github.com/hitoshi/portcullis/internal/repository"
	"github.com/hitoshi/portcullis/internal/security"
	"github.com/hitoshi/portcullis/internal/session"
	"github.com/hitoshi/portcullis/internal/user"
	"github.com/hitoshi/portcullis/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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

	// SIGINTまたはSIGTERMでキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newMetricsRegistry はプロセス・ランタイムのメトリクスを含むレジストリとCollectorを生成する。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildRegistry は認証情報が設定されたIdPからoauth.Registryを構築する。
// コールバックURLはBASE_URLから導出する。
func buildRegistry(cfg *config.Config, mc metrics.MetricsCollector) (*oauth.Registry, error) {
	var configs []oauth.ProviderConfig
	creds := cfg.Providers()
	for _, name := range oauth.SupportedProviders() {
		c, ok := creds[name]
		if !ok {
			continue
		}
		pc, err := oauth.BuiltinProvider(name, c.ClientID, c.ClientSecret, cfg.CallbackURL(name))
		if err != nil {
			return nil, err
		}
		configs = append(configs, pc)
	}

	registry, err := oauth.NewRegistry(configs, oauth.Options{
		Timeout:   cfg.ProviderHTTPTimeout,
		Guard:     security.NewEndpointGuard(),
		Sanitizer: security.NewTextSanitizer(),
		Metrics:   mc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}
	return registry, nil
}

// newRouter は全依存関係をワイヤリングしたHTTPハンドラーを返す。
// 返されたRateLimiterはサーバー停止時にStopすること。
func newRouter(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, mc metrics.MetricsCollector) (http.Handler, *middleware.RateLimiter, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 2. ドメインサービスの初期化
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	sessions := session.NewManager(sessionRepo, userRepo, session.Config{
		MaxAge: cfg.SessionMaxAgeDuration(),
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
	})

	registry, err := buildRegistry(cfg, mc)
	if err != nil {
		return nil, nil, err
	}

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:          sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger: slog.Default(),

		Authenticator: auth.NewAuthenticator(userRepo, hasher),
		Reconciler:    auth.NewReconciler(userRepo, hasher, mc),
		Providers:     registry,
		StateCodec:    oauth.NewStateCodec([]byte(cfg.SessionSecret), oauth.DefaultStateTTL),

		UserService: user.NewService(userRepo, hasher, mc),

		HealthChecker:  db,
		Metrics:        mc,
		MetricsHandler: metrics.Handler(reg),
	})

	slog.Info("router configured",
		slog.Int("providers", registry.Len()),
		slog.Bool("cookie_secure", cfg.CookieSecure),
	)
	return router, rateLimiter, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	reg, collector := newMetricsRegistry()
	router, rateLimiter, err := newRouter(cfg, db, reg, collector)
	if err != nil {
		return err
	}
	defer rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + cfg.ProviderHTTPTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、/metricsと/healthをSERVER_PORTで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg, collector := newMetricsRegistry()
	job := cleanup.NewCleanupJob(db, slog.Default(), collector)

	mux := metrics.SetupMetricsRoute(reg)
	mux.Handle("GET /health", handler.NewHealthHandler(db))
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Start(ctx, cfg.SessionCleanupInterval)
	}()

	err = serveUntilDone(ctx, server, "worker metrics server")
	<-done
	slog.Info("worker stopped gracefully")
	return err
}

// serveUntilDone はserverを起動し、ctxがキャンセルされたらシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
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
