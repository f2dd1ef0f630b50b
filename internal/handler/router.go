package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/k2on/ak-scheduler/internal/middleware"
	"github.com/k2on/ak-scheduler/internal/scheduler"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Scheduler   *scheduler.Scheduler
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// MetricsHandler はPrometheusスクレイプ用ハンドラー。nil可。
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → RateLimit
//
// ヘルスチェックとメトリクスはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	h := NewSchedulerHandler(deps.Scheduler, deps.Logger)

	// --- 運用エンドポイント（レート制限の外） ---

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- APIエンドポイント ---

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Post("/api/session", h.CreateSession)
		r.Post("/api/lookup", h.Lookup)

		r.Route("/api/filters", func(r chi.Router) {
			r.Get("/", h.GetFilters)
			r.Put("/", h.UpdateFilters)
		})

		r.Post("/api/search", h.Search)

		r.Route("/api/appointments", func(r chi.Router) {
			r.Get("/", h.ListBooked)
			r.Post("/book", h.Book)
			r.Post("/cancel", h.Cancel)
		})
	})

	return r
}
