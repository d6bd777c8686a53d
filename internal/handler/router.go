package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/middleware"
	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/oauth"
	"github.com/hitoshi/portcullis/internal/session"
)

// SessionStore はリクエストごとのセッションの読み込みと保存を行う。
// session.Managerが満たす。
type SessionStore interface {
	LoadRequest(r *http.Request) (*session.State, error)
	Save(ctx context.Context, w http.ResponseWriter, st *session.State) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions          SessionStore
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// 認証
	Authenticator LocalAuthenticator
	Reconciler    IdentityReconciler
	Providers     ProviderRegistry
	StateCodec    *oauth.StateCodec

	// ユーザー
	UserService UserServiceInterface

	// 運用
	HealthChecker  HealthChecker
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// Pagesがnilの場合は埋め込みテンプレートから生成する
	Pages *Pages
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Metrics → Session → Logging → CSRF → RateLimit(General)
//
// /health と /metrics はセッションを読み込まないようチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pages := deps.Pages
	if pages == nil {
		pages = MustNewPages()
	}

	oauthHandler := NewOAuthHandler(deps.Providers, deps.StateCodec, deps.Reconciler, deps.Sessions, pages, mc,
		OAuthHandlerConfig{CookieSecure: deps.CSRFConfig.CookieSecure})
	authHandler := NewAuthHandler(deps.Sessions, deps.Authenticator, oauthHandler, pages, mc)
	userHandler := NewUserHandler(deps.UserService, deps.Sessions, pages)
	homeHandler := NewHomeHandler(deps.Sessions, pages)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRFConfig.CookieSecure))
	r.Use(middleware.NewMetricsMiddleware(mc))

	// --- セッション不要のルート ---
	if deps.HealthChecker != nil {
		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- セッションを伴うルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		loginLimit := deps.RateLimiter.LoginMiddleware()
		anonymousOnly := middleware.RedirectIfAuthenticated(landingPath)

		r.With(middleware.RequireAuth(loginPath)).Get(landingPath, homeHandler.Show)

		r.With(anonymousOnly).Get(loginPath, authHandler.LoginForm)
		r.With(loginLimit).Post(loginPath, authHandler.Login)
		r.Post("/logout", authHandler.Logout)

		r.With(anonymousOnly).Get("/signup", userHandler.SignupForm)
		r.With(loginLimit).Post("/signup", userHandler.Signup)

		r.Route("/auth", func(r chi.Router) {
			// フロントエンドから参照されるJSONエンドポイント
			r.Group(func(r chi.Router) {
				r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
				r.Get("/me", authHandler.Me)
				r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
			})

			// 外部IdPによるログイン
			r.Get("/{provider}", oauthHandler.Begin)
			r.With(loginLimit).Get("/{provider}/callback", oauthHandler.Callback)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteAPIError(w, model.NewNotFoundError())
	})

	return r
}
