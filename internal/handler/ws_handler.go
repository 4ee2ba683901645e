package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/coderev/internal/auth"
	"github.com/hitoshi/coderev/internal/collab"
	"github.com/hitoshi/coderev/internal/middleware"
	"github.com/hitoshi/coderev/internal/model"
)

// WSHandler はWebSocket接続の受け入れを担う。
// 認証は接続確立時に1回だけ行い、失敗した接続はハブに登録しない。
type WSHandler struct {
	hub      *collab.Hub
	verifier auth.Verifier
	upgrader websocket.Upgrader
}

// NewWSHandler はWSHandlerを生成する。
// checkOriginがnilの場合は全オリジンを許可する（リバースプロキシ背後での運用を想定）。
func NewWSHandler(hub *collab.Hub, verifier auth.Verifier, checkOrigin func(r *http.Request) bool) *WSHandler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WSHandler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeWS はWebSocket接続を認証してアップグレードし、ポンプを開始する。
// GET /ws
// 資格情報はAuthorizationヘッダーのBearerトークン、またはtokenクエリパラメータで渡す。
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	credential := middleware.BearerCredential(r)
	if credential == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	user, err := h.verifier.Verify(r.Context(), credential)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		slog.Error("failed to verify websocket credential",
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewUpstreamFailureError("auth cache"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeは失敗時に自身でレスポンスを書き込む
		slog.Warn("websocket upgrade failed",
			slog.String("error", err.Error()),
		)
		return
	}

	client := collab.NewClient(h.hub, conn, user)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
