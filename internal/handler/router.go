package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	CookieSecure      bool
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	UserLookup  UserLookup

	// 外部IdP
	Federator   FederatorInterface
	OAuthConfig OAuthHandlerConfig

	// 2段階認証
	TwoFactorService TwoFactorServiceInterface

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	SecurityHeaders → CORS → Recovery → Metrics → Logging → RateLimit(General)
//
// 認証が必要なルートではAuthの後にレート制限を置き、ユーザー単位で制限する。
// 資格情報を受け取るルートには追加でRateLimit(Credential)を適用する。
// /healthと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewLoggingMiddleware(logger))

	// --- 運用エンドポイント ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService)
	oauthHandler := NewOAuthHandler(deps.Federator, deps.OAuthConfig)
	twoFactorHandler := NewTwoFactorHandler(deps.TwoFactorService)
	adminHandler := NewAdminHandler(deps.UserLookup)

	// --- 認証不要のルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.CredentialMiddleware())

			r.Post("/register", authHandler.Register)
			r.Post("/token", authHandler.Token)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
		})

		// 外部IdPログイン
		r.Get("/login/{provider}", oauthHandler.Login)
		r.Get("/callback/{provider}", oauthHandler.Callback)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.UserResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/users/me", authHandler.Me)

		r.Route("/2fa", func(r chi.Router) {
			r.Post("/generate", twoFactorHandler.Generate)
			r.Get("/qr-code", twoFactorHandler.QRCode)

			r.With(deps.RateLimiter.CredentialMiddleware()).Post("/enable", twoFactorHandler.Enable)
			r.With(deps.RateLimiter.CredentialMiddleware()).Post("/disable", twoFactorHandler.Disable)
		})

		// 管理者専用
		r.With(middleware.RequireAdmin()).Get("/admin/users/{username}", adminHandler.GetUser)
	})

	return r
}
