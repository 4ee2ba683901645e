package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/coderev/internal/cache"
	"github.com/hitoshi/coderev/internal/model"
	"github.com/hitoshi/coderev/internal/repository"
	"github.com/hitoshi/coderev/internal/review"
)

// Metrics はHubが記録するメトリクスのインターフェース。
// metrics.Collectorがこれを満たす。
type Metrics interface {
	RecordEvent(eventType string)
	RecordBroadcast(recipients int)
	SetConnections(n int)
	SetActiveSessions(n int)
	RecordReviewLatency(d time.Duration)
	RecordReviewFailure()
}

// ReviewLimiter はユーザーごとのAIレビュー要求頻度を制限する。
type ReviewLimiter interface {
	AllowReview(userID string) bool
}

// noopMetrics はメトリクス未設定時のフォールバック。
type noopMetrics struct{}

func (noopMetrics) RecordEvent(string)                {}
func (noopMetrics) RecordBroadcast(int)               {}
func (noopMetrics) SetConnections(int)                {}
func (noopMetrics) SetActiveSessions(int)             {}
func (noopMetrics) RecordReviewLatency(time.Duration) {}
func (noopMetrics) RecordReviewFailure()              {}

// Hub は接続ライフサイクルとイベントルーティングを管理する。
// インメモリ状態の変更とブロードキャストはhub.muの下で直列化され、
// 同一セッション内のイベントは受信順に配信される。中断しうる外部呼び出し
// （ストア書き込み、キャッシュミラー、AIレビュー）はロック外で行い、
// インメモリ変更とはアトミックでない（弱い整合性で十分な箇所のみ）。
type Hub struct {
	mu       sync.Mutex
	clients  map[string]*Client
	registry *Registry

	store    repository.SessionRepository
	cache    cache.Cache
	reviewer review.Reviewer
	metrics  Metrics

	reviewLimiter ReviewLimiter

	codeTTL time.Duration
}

// NewHub はHubを生成する。metricsはnil可。
func NewHub(registry *Registry, store repository.SessionRepository, c cache.Cache, reviewer review.Reviewer, m Metrics, codeTTL time.Duration) *Hub {
	if m == nil {
		m = noopMetrics{}
	}
	return &Hub{
		clients:  make(map[string]*Client),
		registry: registry,
		store:    store,
		cache:    c,
		reviewer: reviewer,
		metrics:  m,
		codeTTL:  codeTTL,
	}
}

// SetReviewLimiter はAIレビュー要求のレートリミッターを設定する。
// 接続受付開始前に呼ぶこと。
func (h *Hub) SetReviewLimiter(l ReviewLimiter) {
	h.reviewLimiter = l
}

// Register は認証済みの接続をHubに登録する。
// 認証はWebSocketハンドラが接続確立時に済ませている。
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.updateGaugesLocked()
	h.mu.Unlock()

	slog.Info("user connected",
		slog.String("conn_id", c.ID),
		slog.String("user_id", c.User.ID),
		slog.String("email", c.User.Email),
	)
}

// Disconnect は接続の終了処理を行う。leaveSession相当の後始末を実行し、
// 接続をHubから除去する。トランスポート層の切断シグナルからちょうど1回
// 呼ばれることを想定し、複数回呼ばれても安全（冪等）。
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	h.leaveLocked(c)
	delete(h.clients, c.ID)
	close(c.send)
	h.updateGaugesLocked()
	h.mu.Unlock()

	slog.Info("user disconnected",
		slog.String("conn_id", c.ID),
		slog.String("user_id", c.User.ID),
		slog.String("email", c.User.Email),
	)
}

// HandleMessage は受信フレームを検証してイベントハンドラに振り分ける。
// すべての失敗は送信元へのスコープ付きerrorイベントに変換され、
// ルームには決して配信されない。
func (h *Hub) HandleMessage(c *Client, raw []byte) {
	ev, err := ParseInbound(raw)
	if err != nil {
		h.sendError(c, model.NewMalformedPayloadError(err.Error()))
		return
	}

	h.metrics.RecordEvent(string(ev.Type))

	switch ev.Type {
	case EventJoinSession:
		var p JoinPayload
		if !h.decode(c, ev.Payload, &p) {
			return
		}
		h.handleJoin(c, &p)
	case EventCodeChange:
		var p CodeChangePayload
		if !h.decode(c, ev.Payload, &p) {
			return
		}
		h.handleCodeChange(c, &p)
	case EventCursorPosition:
		var p CursorPayload
		if !h.decode(c, ev.Payload, &p) {
			return
		}
		h.handleCursor(c, &p)
	case EventAddComment:
		var p CommentPayload
		if !h.decode(c, ev.Payload, &p) {
			return
		}
		h.handleComment(c, &p)
	case EventRequestAIReview:
		var p ReviewPayload
		if !h.decode(c, ev.Payload, &p) {
			return
		}
		h.handleReviewRequest(c, &p)
	case EventTyping:
		var p TypingPayload
		if !h.decode(c, ev.Payload, &p) {
			return
		}
		h.handleTyping(c, &p)
	case EventLeaveSession:
		var p LeavePayload
		if !h.decode(c, ev.Payload, &p) {
			return
		}
		h.handleLeave(c, &p)
	default:
		h.sendError(c, model.NewMalformedPayloadError("unknown event type: "+string(ev.Type)))
	}
}

// validator はペイロード共通の検証インターフェース。
type validator interface {
	Validate() error
}

// decode はペイロードをデコード・検証し、失敗時はMalformedエラーを返信する。
// 状態は一切変更されない。
func (h *Hub) decode(c *Client, raw json.RawMessage, p validator) bool {
	if err := json.Unmarshal(raw, p); err != nil {
		h.sendError(c, model.NewMalformedPayloadError("invalid payload shape"))
		return false
	}
	if err := p.Validate(); err != nil {
		h.sendError(c, model.NewMalformedPayloadError(err.Error()))
		return false
	}
	return true
}

// handleJoin はセッション参加を処理する。
// 永続Sessionの取得とアクセス判定（オーナー・参加者・公開のいずれか）の後、
// 別セッション参加中であれば暗黙のleaveを先に実行する（接続は常に最大1セッション）。
func (h *Hub) handleJoin(c *Client, p *JoinPayload) {
	sess, err := h.store.FindByID(context.Background(), p.SessionID)
	if err != nil {
		slog.Error("failed to load session for join",
			slog.String("session_id", p.SessionID),
			slog.String("error", err.Error()),
		)
		h.sendError(c, model.NewUpstreamFailureError("session store"))
		return
	}
	if sess == nil {
		h.sendError(c, model.NewSessionNotFoundError(p.SessionID))
		return
	}
	if !sess.HasAccess(c.User.ID) {
		h.sendError(c, model.NewAccessDeniedError())
		return
	}

	h.mu.Lock()
	if c.session != "" && c.session != p.SessionID {
		h.leaveLocked(c)
	}

	snap := h.registry.Join(p.SessionID, c.ID, c.User, sess.Code, sess.Language)
	c.session = p.SessionID

	h.unicastLocked(c, EventSessionJoined, SessionJoinedPayload{
		SessionID:    snap.SessionID,
		Code:         snap.Code,
		Language:     snap.Language,
		Participants: snap.Participants,
	})
	h.broadcastLocked(p.SessionID, c.ID, EventUserJoined, UserJoinedPayload{
		User:             c.User,
		ParticipantCount: len(snap.Participants),
	})
	h.updateGaugesLocked()
	h.mu.Unlock()

	// 公開セッションへの初参加は永続participantsにも反映する（ベストエフォート）
	if sess.OwnerID != c.User.ID && !sess.IsParticipant(c.User.ID) {
		go func() {
			if err := h.store.AddParticipant(context.Background(), p.SessionID, c.User.ID); err != nil {
				slog.Warn("failed to persist participant",
					slog.String("session_id", p.SessionID),
					slog.String("user_id", c.User.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	go h.mirrorPresence(p.SessionID)

	slog.Info("user joined session",
		slog.String("session_id", p.SessionID),
		slog.String("user_id", c.User.ID),
		slog.String("email", c.User.Email),
	)
}

// handleCodeChange はコード変更を処理する。
// インメモリの権威コピーを置き換えて他参加者に全文を配信する。
// キャッシュミラーはロック外・非同期のベストエフォートで、失敗しても
// ブロードキャストには影響しない。
func (h *Hub) handleCodeChange(c *Client, p *CodeChangePayload) {
	h.mu.Lock()
	if !h.isCurrentParticipantLocked(c, p.SessionID) {
		h.mu.Unlock()
		h.sendError(c, model.NewNotJoinedError())
		return
	}

	h.registry.ApplyCodeChange(p.SessionID, p.Code)
	h.broadcastLocked(p.SessionID, c.ID, EventCodeChanged, CodeChangedPayload{
		Code:    p.Code,
		Changes: p.Changes,
		Author:  c.User,
	})
	h.mu.Unlock()

	go h.mirrorCode(p.SessionID, p.Code)
}

// handleCursor はカーソル移動を処理する。重複排除はせず毎回転送する。
func (h *Hub) handleCursor(c *Client, p *CursorPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isCurrentParticipantLocked(c, p.SessionID) {
		h.sendErrorLocked(c, model.NewNotJoinedError())
		return
	}

	h.registry.SetCursor(p.SessionID, c.ID, c.User, p.Position)
	h.broadcastLocked(p.SessionID, c.ID, EventCursorMoved, CursorMovedPayload{
		UserID:   c.User.ID,
		User:     c.User,
		Position: p.Position,
	})
}

// handleTyping はタイピング通知を処理する。状態は持たない。
func (h *Hub) handleTyping(c *Client, p *TypingPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isCurrentParticipantLocked(c, p.SessionID) {
		h.sendErrorLocked(c, model.NewNotJoinedError())
		return
	}

	h.broadcastLocked(p.SessionID, c.ID, EventUserTyping, UserTypingPayload{
		UserID:   c.User.ID,
		User:     c.User,
		IsTyping: p.IsTyping,
	})
}

// handleComment はコメント追加を処理する。
// コメントはコードミラーと違い永続化が必須のため、ストアへの追記が
// 成功してからルーム全体（送信者含む）に配信する。クラッシュ後に消える
// コメントを先に広告しないための順序。
func (h *Hub) handleComment(c *Client, p *CommentPayload) {
	h.mu.Lock()
	ok := h.isCurrentParticipantLocked(c, p.SessionID)
	h.mu.Unlock()
	if !ok {
		h.sendError(c, model.NewNotJoinedError())
		return
	}

	comment := model.Comment{
		ID:        uuid.NewString(),
		Line:      p.Comment.Line,
		Text:      p.Comment.Text,
		Author:    c.User,
		Timestamp: time.Now().UTC(),
	}

	if err := h.store.AppendComment(context.Background(), p.SessionID, &comment); err != nil {
		slog.Error("failed to persist comment",
			slog.String("session_id", p.SessionID),
			slog.String("user_id", c.User.ID),
			slog.String("error", err.Error()),
		)
		h.sendError(c, model.NewUpstreamFailureError("session store"))
		return
	}

	h.mu.Lock()
	h.broadcastLocked(p.SessionID, "", EventCommentAdded, comment)
	h.mu.Unlock()

	slog.Info("comment added",
		slog.String("session_id", p.SessionID),
		slog.String("comment_id", comment.ID),
		slog.String("user_id", c.User.ID),
	)
}

// handleReviewRequest はAIレビュー要求を処理する。
// reviewStartedを即座にルーム全体へ配信し、Reviewer呼び出しは非同期で行う。
// 要求者が途中で切断してもレビューはキャンセルされず、完了時に
// 残っている参加者へ配信される。
func (h *Hub) handleReviewRequest(c *Client, p *ReviewPayload) {
	if h.reviewLimiter != nil && !h.reviewLimiter.AllowReview(c.User.ID) {
		h.sendError(c, model.NewRateLimitedError())
		return
	}

	h.mu.Lock()
	if !h.isCurrentParticipantLocked(c, p.SessionID) {
		h.mu.Unlock()
		h.sendError(c, model.NewNotJoinedError())
		return
	}
	h.broadcastLocked(p.SessionID, "", EventReviewStarted, ReviewStartedPayload{
		RequestedBy: c.User,
	})
	h.mu.Unlock()

	go h.runReview(p.SessionID, c.ID, c.User, p.Code, p.Language)

	slog.Info("ai review requested",
		slog.String("session_id", p.SessionID),
		slog.String("user_id", c.User.ID),
	)
}

// runReview はReviewerを呼び出し、結果を永続化して配信する。
func (h *Hub) runReview(sessionID, connID string, requestedBy model.UserSnapshot, code, language string) {
	start := time.Now()
	result, err := h.reviewer.Review(context.Background(), code, language)
	h.metrics.RecordReviewLatency(time.Since(start))

	if err != nil {
		h.metrics.RecordReviewFailure()
		slog.Error("ai review failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		h.sendErrorTo(connID, model.NewUpstreamFailureError("ai reviewer"))
		return
	}

	record := model.ReviewRecord{
		ID:          uuid.NewString(),
		RequestedBy: requestedBy,
		Result:      result,
		Timestamp:   time.Now().UTC(),
	}

	if err := h.store.AppendReview(context.Background(), sessionID, &record); err != nil {
		slog.Warn("failed to persist review record",
			slog.String("session_id", sessionID),
			slog.String("review_id", record.ID),
			slog.String("error", err.Error()),
		)
	}

	h.mu.Lock()
	h.broadcastLocked(sessionID, "", EventReviewCompleted, ReviewCompletedPayload{
		ReviewID:    record.ID,
		RequestedBy: requestedBy,
		Result:      record.Result,
	})
	h.mu.Unlock()

	slog.Info("ai review completed",
		slog.String("session_id", sessionID),
		slog.String("review_id", record.ID),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// handleLeave は明示的なセッション退出を処理する。
// 参加していないセッションへのleaveは何もしない（冪等、エラーも返さない）。
func (h *Hub) handleLeave(c *Client, p *LeavePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.session != p.SessionID {
		return
	}
	h.leaveLocked(c)
	h.updateGaugesLocked()
}

// leaveLocked は接続を現セッションから退出させる。hub.mu保持下で呼ぶこと。
// 参加者数はRegistryが返す実数を配信し、0になった時点でセッション状態は
// Registry側で破棄済みとなる。
func (h *Hub) leaveLocked(c *Client) {
	if c.session == "" {
		return
	}

	sessionID := c.session
	c.session = ""

	user, remaining, existed := h.registry.RemoveParticipant(sessionID, c.ID)
	if !existed {
		return
	}

	h.broadcastLocked(sessionID, c.ID, EventUserLeft, UserLeftPayload{
		User:             user,
		ParticipantCount: remaining,
	})

	if remaining == 0 {
		go h.clearMirror(sessionID)
	} else {
		go h.mirrorPresence(sessionID)
	}

	slog.Info("user left session",
		slog.String("session_id", sessionID),
		slog.String("user_id", user.ID),
		slog.Int("participant_count", remaining),
	)
}

// isCurrentParticipantLocked はイベントの前提条件
// 「送信者が対象セッションの現参加者である」を検証する。
func (h *Hub) isCurrentParticipantLocked(c *Client, sessionID string) bool {
	return c.session == sessionID && h.registry.HasParticipant(sessionID, c.ID)
}

// broadcastLocked はセッション参加者にフレームを配信する。
// excludeConnIDが空でない場合はその接続を除外する（送信者除外ルーム配信）。
// フレームのエンコードは1回で、全受信者に同一バイト列を配る。
// 低速なクライアントはフレームを落とし、他参加者への配信は止めない。
func (h *Hub) broadcastLocked(sessionID, excludeConnID string, t EventType, payload interface{}) {
	frame, err := EncodeOutbound(t, payload)
	if err != nil {
		slog.Error("failed to encode broadcast",
			slog.String("event", string(t)),
			slog.String("error", err.Error()),
		)
		return
	}

	sent := 0
	for _, connID := range h.registry.ParticipantConnIDs(sessionID) {
		if connID == excludeConnID {
			continue
		}
		cl, ok := h.clients[connID]
		if !ok {
			continue
		}
		if !cl.trySend(frame) {
			slog.Warn("dropping frame for slow consumer",
				slog.String("conn_id", connID),
				slog.String("event", string(t)),
			)
			continue
		}
		sent++
	}
	h.metrics.RecordBroadcast(sent)
}

// unicastLocked は単一接続にイベントを送る。
func (h *Hub) unicastLocked(c *Client, t EventType, payload interface{}) {
	frame, err := EncodeOutbound(t, payload)
	if err != nil {
		slog.Error("failed to encode unicast",
			slog.String("event", string(t)),
			slog.String("error", err.Error()),
		)
		return
	}
	c.trySend(frame)
}

// sendError は送信元接続にのみエラーイベントを返す。
func (h *Hub) sendError(c *Client, apiErr *model.APIError) {
	h.mu.Lock()
	h.sendErrorLocked(c, apiErr)
	h.mu.Unlock()
}

// sendErrorLocked はhub.mu保持下でエラーイベントを返す。
func (h *Hub) sendErrorLocked(c *Client, apiErr *model.APIError) {
	h.unicastLocked(c, EventError, ErrorPayload{
		Code:    apiErr.Code,
		Message: apiErr.Message,
	})
}

// sendErrorTo は接続IDでエラーイベントを返す。すでに切断済みなら何もしない。
func (h *Hub) sendErrorTo(connID string, apiErr *model.APIError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cl, ok := h.clients[connID]; ok {
		h.sendErrorLocked(cl, apiErr)
	}
}

// updateGaugesLocked は接続数とアクティブセッション数のゲージを更新する。
func (h *Hub) updateGaugesLocked() {
	h.metrics.SetConnections(len(h.clients))
	h.metrics.SetActiveSessions(h.registry.Len())
}
