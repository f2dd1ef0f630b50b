// Package app はアプリケーションの起動とワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/k2on/ak-scheduler/internal/config"
	"github.com/k2on/ak-scheduler/internal/handler"
	"github.com/k2on/ak-scheduler/internal/logger"
	"github.com/k2on/ak-scheduler/internal/metrics"
	"github.com/k2on/ak-scheduler/internal/middleware"
	"github.com/k2on/ak-scheduler/internal/model"
	"github.com/k2on/ak-scheduler/internal/portal"
	"github.com/k2on/ak-scheduler/internal/scheduler"
	"github.com/k2on/ak-scheduler/internal/security"
)

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、JSON構造化ログをセットアップし、
// 環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しない場合は無視）
	_ = godotenv.Load()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
		slog.String("location_id", cfg.LocationID),
	)

	switch cmd {
	case CommandOnce:
		return runOnce(cfg)
	default:
		return runServe(cfg)
	}
}

// buildScheduler はポータルクライアントとスケジューラをワイヤリングする。
// ポータルのベースURLを検証し、SSRF防止機能付きのHTTPクライアントを使う。
func buildScheduler(cfg *config.Config, collector *metrics.Collector) (*scheduler.Scheduler, error) {
	guard := security.NewPortalGuard()
	if err := guard.ValidateURL(cfg.PortalBaseURL); err != nil {
		return nil, fmt.Errorf("invalid portal base URL: %w", err)
	}

	httpClient := guard.NewSafeClient(cfg.PortalTimeout)
	sanitizer := security.NewTextSanitizer()

	var recorder portal.MetricsRecorder
	var booking scheduler.BookingRecorder
	if collector != nil {
		recorder = collector
		booking = collector
	}

	client := portal.NewClient(httpClient, cfg.PortalBaseURL, slog.Default(), portal.ClientOptions{
		Metrics:     recorder,
		Cleaner:     sanitizer,
		RatePerMin:  cfg.PortalRatePerMin,
		MaxBodySize: cfg.PortalMaxBodySize,
	})

	return scheduler.New(client, cfg.LocationID, slog.Default(), booking), nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. スケジューラのワイヤリング
	sched, err := buildScheduler(cfg, collector)
	if err != nil {
		return err
	}

	// 3. レートリミッターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 4. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Scheduler:      sched,
		Logger:         slog.Default(),
		RateLimiter:    rateLimiter,
		MetricsHandler: metrics.Handler(registry),
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runOnce はワンショットモードで実行する。
// セッション確立 → ユーザー検索を行い、フィルタカタログと
// 予約済み一覧をログに出力して終了する。
// 本人確認情報は環境変数（LOOKUP_*）から取る。
func runOnce(cfg *config.Config) error {
	sched, err := buildScheduler(cfg, nil)
	if err != nil {
		return err
	}

	identity, err := identityFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := sched.CreateSession(ctx); err != nil {
		return fmt.Errorf("session creation failed: %w", err)
	}

	if err := sched.RefreshUserData(ctx, *identity); err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	catalog := sched.Catalog()
	slog.Info("filter catalog",
		slog.Int("dates", len(catalog.DateOptions)),
		slog.Int("appointment_types", len(catalog.AppointmentTypeOptions)),
		slog.Int("trainers", len(catalog.TrainerOptions)),
	)

	booked, err := sched.BookedAppointments(ctx)
	if err != nil {
		return err
	}
	for _, a := range booked {
		slog.Info("booked appointment",
			slog.String("id", a.ID()),
			slog.Time("datetime", a.DateTime()),
			slog.String("appointment_type", a.AppointmentTypeName()),
			slog.String("trainer", a.TrainerName()),
		)
	}

	return nil
}

// identityFromConfig は環境変数由来の本人確認情報を組み立てる。
func identityFromConfig(cfg *config.Config) (*model.Identity, error) {
	if cfg.LookupFirstName == "" || cfg.LookupLastName == "" || cfg.LookupBirthdate == "" {
		return nil, fmt.Errorf("LOOKUP_FIRST_NAME, LOOKUP_LAST_NAME and LOOKUP_BIRTHDATE are required for once mode")
	}

	birthdate, err := time.ParseInLocation("2006-01-02", cfg.LookupBirthdate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid LOOKUP_BIRTHDATE: %w", err)
	}

	return &model.Identity{
		FirstName: cfg.LookupFirstName,
		LastName:  cfg.LookupLastName,
		Birthdate: birthdate,
		Email:     cfg.LookupEmail,
		Phone:     cfg.LookupPhone,
	}, nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
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
