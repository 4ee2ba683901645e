package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/coderev/internal/auth"
	"github.com/hitoshi/coderev/internal/collab"
	"github.com/hitoshi/coderev/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          auth.Verifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// セッション管理
	SessionStore SessionStore

	// リアルタイムコラボレーション
	Hub *collab.Hub

	// WebSocketのオリジン検証。nilの場合は全オリジンを許可。
	CheckOrigin func(r *http.Request) bool

	// 監視エンドポイント
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → CORS → Auth → RateLimit(General)
//
// /health、/metrics、/wsはミドルウェアチェーンの外に配置する
// （WebSocketはハンドシェイク時に独自に認証する）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionHandler := NewSessionHandler(deps.SessionStore)
	wsHandler := NewWSHandler(deps.Hub, deps.Verifier, deps.CheckOrigin)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// WebSocketエンドポイント（ハンドシェイク時に認証）
	r.Get("/ws", wsHandler.ServeWS)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Verifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.ListSessions)
			r.Post("/", sessionHandler.CreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.GetSession)
				r.Put("/", sessionHandler.UpdateSession)
				r.Delete("/", sessionHandler.DeleteSession)

				r.Post("/join", sessionHandler.JoinSession)
				r.Post("/leave", sessionHandler.LeaveSession)
				r.Post("/invite", sessionHandler.InviteParticipant)
			})
		})
	})

	return r
}
