package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hitoshi/coderev/internal/cache"
)

// mirrorCode は最新コードをRedisへミラーし、他プロセス向けに
// セッションチャンネルへも発行する。ベストエフォートであり、
// 失敗してもインメモリ状態とブロードキャストには影響しない。
func (h *Hub) mirrorCode(sessionID, code string) {
	ctx := context.Background()

	if err := h.cache.Set(ctx, cache.SessionCodeKey(sessionID), code, h.codeTTL); err != nil {
		slog.Warn("failed to mirror session code",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	frame, err := EncodeOutbound(EventCodeChanged, CodeChangedPayload{Code: code})
	if err != nil {
		return
	}
	if err := h.cache.Publish(ctx, cache.SessionChannel(sessionID), string(frame)); err != nil {
		slog.Warn("failed to publish code change",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// mirrorPresence は現在の参加者一覧をRedisへミラーする。ベストエフォート。
func (h *Hub) mirrorPresence(sessionID string) {
	snap, ok := h.registry.Snapshot(sessionID)
	if !ok {
		return
	}

	data, err := json.Marshal(snap.Participants)
	if err != nil {
		return
	}
	if err := h.cache.Set(context.Background(), cache.SessionPresenceKey(sessionID), string(data), h.codeTTL); err != nil {
		slog.Warn("failed to mirror session presence",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// clearMirror は参加者が0になったセッションのミラーを破棄する。
func (h *Hub) clearMirror(sessionID string) {
	ctx := context.Background()
	for _, key := range []string{cache.SessionCodeKey(sessionID), cache.SessionPresenceKey(sessionID)} {
		if err := h.cache.Delete(ctx, key); err != nil {
			slog.Warn("failed to clear session mirror",
				slog.String("session_id", sessionID),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// FlushLoop はインメモリの作業コードを定期的にストアへフラッシュする。
// コード変更の即時永続化は行わない設計のため、クラッシュ時は最大1周期分の
// 変更が失われうる。ctxキャンセル時は最終フラッシュを行ってから戻る。
func (h *Hub) FlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.flushDirty(ctx)
		case <-ctx.Done():
			h.flushDirty(context.Background())
			return
		}
	}
}

// flushDirty は変更のあったセッションのコードをストアへ書き込む。
func (h *Hub) flushDirty(ctx context.Context) {
	for _, d := range h.registry.CollectDirty() {
		if err := h.store.UpdateCode(ctx, d.SessionID, d.Code); err != nil {
			slog.Error("failed to flush session code",
				slog.String("session_id", d.SessionID),
				slog.String("error", err.Error()),
			)
		}
	}
}
