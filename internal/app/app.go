// Package app はauthcoreの起動モードごとの依存関係の組み立てと実行を行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authcore/internal/auth"
	"github.com/hitoshi/authcore/internal/config"
	"github.com/hitoshi/authcore/internal/database"
	"github.com/hitoshi/authcore/internal/handler"
	"github.com/hitoshi/authcore/internal/logger"
	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/middleware"
	"github.com/hitoshi/authcore/internal/notify"
	"github.com/hitoshi/authcore/internal/password"
	"github.com/hitoshi/authcore/internal/repository"
	"github.com/hitoshi/authcore/internal/security"
	"github.com/hitoshi/authcore/internal/token"
	"github.com/hitoshi/authcore/internal/twofactor"
	"github.com/hitoshi/authcore/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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

	var adminOpts *CreateAdminOptions
	if cmd == CommandCreateAdmin {
		opts, err := ParseCreateAdminArgs(args[1:], w, os.Getenv)
		if err != nil {
			return fmt.Errorf("invalid create-admin arguments: %w", err)
		}
		adminOpts = opts
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
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateAdmin:
		return runCreateAdmin(cfg, adminOpts)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// components はserveとcreate-adminで共有するドメインサービス群。
type components struct {
	auth       *auth.Service
	federator  *auth.Federator
	twoFactor  *twofactor.Service
	dispatcher *notify.Dispatcher
	collector  *metrics.Collector
	registry   *prometheus.Registry
	redis      *redis.Client
}

// close はバックグラウンド処理と外部接続を停止する。
func (c *components) close() {
	c.dispatcher.Close()
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
}

// buildComponents は設定とDB接続からドメインサービスを組み立てる。
func buildComponents(cfg *config.Config, db *sql.DB) (*components, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリの初期化
	users := repository.NewPostgresUserRepo(db, cfg.StoreTimeout)

	var consumed repository.ConsumedTokenStore = repository.NewPostgresConsumedTokenRepo(db, cfg.StoreTimeout)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		consumed = repository.NewRedisConsumedTokenStore(redisClient, cfg.StoreTimeout)
		slog.Info("using redis for consumed reset tokens")
	}

	// 3. 資格情報プリミティブ
	hasher, err := password.NewHasher(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to create password hasher: %w", err)
	}
	issuer, err := token.NewIssuer(token.Config{
		SecretKey: []byte(cfg.JWTSecretKey),
		Algorithm: cfg.JWTAlgorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	totp := twofactor.NewTOTP(cfg.TwoFactorIssuerName)

	// 4. 通知
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	}, notify.NewLogNotifier(slog.Default()), collector, slog.Default())

	// 5. ドメインサービス
	authService := auth.NewService(auth.Dependencies{
		Users:    users,
		Consumed: consumed,
		Hasher:   hasher,
		Tokens:   issuer,
		Names:    security.NewNameSanitizer(),
		Codes:    totp,
		Notifier: dispatcher,
		Metrics:  collector,
	}, auth.ServiceConfig{
		AccessTokenTTL:    cfg.AccessTokenTTL(),
		ResetTokenTTL:     cfg.ResetTokenTTL(),
		PasswordMinLength: cfg.PasswordMinLength,
		ResetPasswordURL:  cfg.ResetPasswordURL,
	})

	providers, err := buildProviders(cfg, security.NewSSRFGuard())
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	return &components{
		auth:       authService,
		federator:  auth.NewFederator(authService, providers...),
		twoFactor:  twofactor.NewService(users, hasher, totp, collector),
		dispatcher: dispatcher,
		collector:  collector,
		registry:   registry,
		redis:      redisClient,
	}, nil
}

// buildProviders は認証情報が設定済みのIdPを生成する。
// IdPへの通信はSSRF対策済みのクライアントで行い、エンドポイントURLは起動時に検証する。
func buildProviders(cfg *config.Config, guard security.SSRFGuardService) ([]auth.Provider, error) {
	client := guard.NewProviderClient(cfg.ProviderTimeout)

	candidates := []struct {
		config auth.ProviderConfig
		build  func(auth.ProviderConfig) auth.Provider
	}{
		{
			config: auth.ProviderConfig{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.GoogleRedirectURL(),
			},
			build: func(c auth.ProviderConfig) auth.Provider { return auth.NewGoogleProvider(c, client) },
		},
		{
			config: auth.ProviderConfig{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				RedirectURL:  cfg.GitHubRedirectURL(),
			},
			build: func(c auth.ProviderConfig) auth.Provider { return auth.NewGitHubProvider(c, client) },
		},
	}

	var providers []auth.Provider
	for _, c := range candidates {
		if !c.config.Configured() {
			continue
		}
		p := c.build(c.config)
		for _, endpoint := range p.Endpoints() {
			if err := guard.ValidateURL(endpoint); err != nil {
				return nil, fmt.Errorf("invalid %s endpoint: %w", p.Name(), err)
			}
		}
		providers = append(providers, p)
		slog.Info("oauth provider enabled", slog.String("provider", p.Name()))
	}
	return providers, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. ドメインサービスの初期化
	comps, err := buildComponents(cfg, db)
	if err != nil {
		return err
	}
	defer comps.close()

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(
		cfg.RateLimitGeneral, cfg.RateLimitCredentials, 5*time.Minute,
	))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		UserResolver:      comps.auth,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CookieSecure:      cfg.CookieSecure,
		RateLimiter:       rateLimiter,
		Metrics:           comps.collector,
		Logger:            slog.Default(),

		AuthService: comps.auth,
		UserLookup:  comps.auth,

		Federator: comps.federator,
		OAuthConfig: handler.OAuthHandlerConfig{
			SuccessURL: cfg.OAuthSuccessURL,
			StateCookie: middleware.StateCookieConfig{
				CookieSecure: cfg.CookieSecure,
			},
		},

		TwoFactorService: comps.twoFactor,

		DB:             db,
		MetricsHandler: metrics.Handler(comps.registry),
	})

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 使用済みトークン記録のクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(
		repository.NewPostgresConsumedTokenRepo(db, cfg.StoreTimeout),
		metrics.Nop{},
		slog.Default(),
	)
	if cfg.CleanupInterval > 0 {
		job.Interval = cfg.CleanupInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting", slog.Duration("cleanup_interval", job.Interval))
	job.Start(ctx)

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

	slog.Info("database migrations completed successfully")
	return nil
}

// runCreateAdmin は管理者アカウントを作成する。
// 通常の登録と同じ入力検証を通す。
func runCreateAdmin(cfg *config.Config, opts *CreateAdminOptions) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	comps, err := buildComponents(cfg, db)
	if err != nil {
		return err
	}
	defer comps.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	user, err := comps.auth.CreateAdmin(ctx, auth.RegisterInput{
		Email:           opts.Email,
		Password:        opts.Password,
		ConfirmPassword: opts.Password,
		FirstName:       opts.FirstName,
		LastName:        opts.LastName,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("admin account created",
		slog.String("username", user.Username),
		slog.Int64("user_id", user.ID),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
