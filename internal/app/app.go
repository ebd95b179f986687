// Package app はプロセスのエントリーポイントと依存関係のワイヤリングを提供する。
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

	"github.com/hitoshi/usergate/internal/auth"
	"github.com/hitoshi/usergate/internal/config"
	"github.com/hitoshi/usergate/internal/database"
	"github.com/hitoshi/usergate/internal/handler"
	"github.com/hitoshi/usergate/internal/logger"
	"github.com/hitoshi/usergate/internal/metrics"
	"github.com/hitoshi/usergate/internal/middleware"
	"github.com/hitoshi/usergate/internal/repository"
	"github.com/hitoshi/usergate/internal/security"
	"github.com/hitoshi/usergate/internal/session"
	"github.com/hitoshi/usergate/internal/user"
	"github.com/hitoshi/usergate/internal/view"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

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

	// 3. LOG_LEVELを反映
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
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRollback:
		return runRollback(cfg)
	default:
		return runServe(cfg)
	}
}

// Server は全依存関係をワイヤリングしたHTTPサーバー。
type Server struct {
	httpServer  *http.Server
	db          *sql.DB
	rateLimiter *middleware.RateLimiter
}

// NewServer はConfigからDB接続、サービス、ルーターを構築する。
// IdPのディスカバリは初回ログイン時に行うため、ここでは通信しない。
func NewServer(cfg *config.Config) (*Server, error) {
	// 1. DB接続
	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. セッションとページ
	sessions, err := session.NewStore(session.Config{
		Secret:     []byte(cfg.SessionSecret),
		CookieName: cfg.SessionCookieName,
		MaxAge:     time.Duration(cfg.SessionMaxAge) * time.Second,
		Secure:     cfg.CookieSecure,
		SameSite:   cfg.SameSite(),
		Domain:     cfg.CookieDomain,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	pages, err := view.NewRenderer()
	if err != nil {
		db.Close()
		return nil, err
	}

	// 4. ドメインサービスの初期化
	oidcProvider := auth.NewOIDCProvider(auth.ProviderConfig{
		IssuerURL:    cfg.OIDCIssuerURL,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		DiscoveryTTL: cfg.DiscoveryTTL,
		HTTPClient:   &http.Client{Timeout: cfg.ProviderTimeout},
	})
	authService := auth.NewService(oidcProvider, auth.ServiceConfig{StateTTL: cfg.OAuthStateTTL})

	userRepo := repository.NewSQLUserRepo(db, dialect, cfg.StoreTimeout)
	userService := user.NewService(userRepo, security.NewTextSanitizer(), collector)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:          sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,

		HealthChecker:  userRepo,
		MetricsHandler: metrics.Handler(reg),

		Pages:       pages,
		AuthService: authService,

		UserService: userService,
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		db:          db,
		rateLimiter: rateLimiter,
	}, nil
}

// Handler はルーターを返す。
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Close はサーバーが保持するリソースを解放する。
func (s *Server) Close() error {
	s.rateLimiter.Stop()
	return s.db.Close()
}

// Serve はctxがキャンセルされるまでHTTPサーバーを起動し、その後グレースフルシャットダウンする。
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runServe はHTTPサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	if cfg.AutoMigrate {
		if err := runMigrate(cfg); err != nil {
			return err
		}
	}

	srv, err := NewServer(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	// 起動時の疎通確認。失敗しても起動は続け、/health で503を返す
	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	if err := srv.db.PingContext(pingCtx); err != nil {
		slog.Warn("database is not reachable at startup", slog.String("error", err.Error()))
	} else {
		slog.Info("database connection established")
	}
	cancel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", database.RedactURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runRollback はすべてのマイグレーションを取り消す。
func runRollback(cfg *config.Config) error {
	slog.Info("rolling back database migrations",
		slog.String("database_url", database.RedactURL(cfg.DatabaseURL)),
	)

	if err := database.RollbackMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	slog.Info("database migrations rolled back")
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
