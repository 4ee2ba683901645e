// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/coderev/internal/middleware"
	"github.com/hitoshi/coderev/internal/model"
)

// 新規セッションのデフォルト値
const (
	defaultCode     = "// Start coding here...\n"
	defaultLanguage = "javascript"
)

// SessionStore はセッションハンドラーが必要とする永続化インターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Session, int, error)
	Create(ctx context.Context, session *model.Session) error
	Update(ctx context.Context, session *model.Session) error
	DeleteByID(ctx context.Context, id string) error
	AddParticipant(ctx context.Context, sessionID, userID string) error
	RemoveParticipant(ctx context.Context, sessionID, userID string) error
}

// SessionHandler はセッション管理のHTTPハンドラー。
type SessionHandler struct {
	store SessionStore
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(store SessionStore) *SessionHandler {
	return &SessionHandler{
		store: store,
	}
}

// sessionResponse はセッション情報のAPIレスポンス。
type sessionResponse struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	OwnerID      string               `json:"ownerId"`
	Participants []string             `json:"participants"`
	Code         string               `json:"code"`
	Language     string               `json:"language"`
	Comments     []model.Comment      `json:"comments"`
	Reviews      []model.ReviewRecord `json:"reviews"`
	IsPublic     bool                 `json:"isPublic"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func toSessionResponse(s *model.Session) sessionResponse {
	resp := sessionResponse{
		ID:           s.ID,
		Name:         s.Name,
		Description:  s.Description,
		OwnerID:      s.OwnerID,
		Participants: s.Participants,
		Code:         s.Code,
		Language:     s.Language,
		Comments:     s.Comments,
		Reviews:      s.Reviews,
		IsPublic:     s.IsPublic,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if resp.Participants == nil {
		resp.Participants = []string{}
	}
	if resp.Comments == nil {
		resp.Comments = []model.Comment{}
	}
	if resp.Reviews == nil {
		resp.Reviews = []model.ReviewRecord{}
	}
	return resp
}

// listResponse はセッション一覧のAPIレスポンス。
type listResponse struct {
	Sessions []sessionResponse `json:"sessions"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// createSessionRequest はセッション作成リクエストのボディ。
type createSessionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
	IsPublic    bool   `json:"isPublic"`
}

// updateSessionRequest はセッション更新リクエストのボディ。
// nilのフィールドは変更しない。
type updateSessionRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Language    *string `json:"language"`
	IsPublic    *bool   `json:"isPublic"`
	Code        *string `json:"code"`
}

// inviteRequest は参加者招待リクエストのボディ。
type inviteRequest struct {
	UserID string `json:"userId"`
}

// ListSessions はユーザーがオーナーまたは参加者であるセッション一覧を取得する。
// GET /api/sessions?limit=20&offset=0
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	limit := parseQueryInt(r, "limit", 20, 1, 100)
	offset := parseQueryInt(r, "offset", 0, 0, 1<<30)

	sessions, total, err := h.store.ListByUser(r.Context(), user.ID, limit, offset)
	if err != nil {
		slog.Error("failed to list sessions",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	resp := listResponse{
		Sessions: make([]sessionResponse, 0, len(sessions)),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// CreateSession は新しいセッションを作成する。
// POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("invalid request body"))
		return
	}
	if req.Name == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("name is required"))
		return
	}

	language := req.Language
	if language == "" {
		language = defaultLanguage
	}

	now := time.Now().UTC()
	session := &model.Session{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		OwnerID:      user.ID,
		Participants: []string{},
		Code:         defaultCode,
		Language:     language,
		IsPublic:     req.IsPublic,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.store.Create(r.Context(), session); err != nil {
		slog.Error("failed to create session",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	slog.Info("session created",
		slog.String("session_id", session.ID),
		slog.String("owner_id", user.ID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSessionResponse(session))
}

// GetSession はセッション詳細を取得する。
// GET /api/sessions/:id
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	_, session, ok := h.loadSessionWithAccess(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(session))
}

// UpdateSession はセッションのメタデータを更新する。オーナーのみ実行可能。
// PUT /api/sessions/:id
func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	user, session, ok := h.loadSessionWithAccess(w, r)
	if !ok {
		return
	}
	if session.OwnerID != user.ID {
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewAccessDeniedError())
		return
	}

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("invalid request body"))
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("name must not be empty"))
			return
		}
		session.Name = *req.Name
	}
	if req.Description != nil {
		session.Description = *req.Description
	}
	if req.Language != nil {
		session.Language = *req.Language
	}
	if req.IsPublic != nil {
		session.IsPublic = *req.IsPublic
	}
	if req.Code != nil {
		session.Code = *req.Code
	}
	session.UpdatedAt = time.Now().UTC()

	if err := h.store.Update(r.Context(), session); err != nil {
		slog.Error("failed to update session",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(session))
}

// DeleteSession はセッションを削除する。オーナーのみ実行可能。
// DELETE /api/sessions/:id
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	user, session, ok := h.loadSessionWithAccess(w, r)
	if !ok {
		return
	}
	if session.OwnerID != user.ID {
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewAccessDeniedError())
		return
	}

	if err := h.store.DeleteByID(r.Context(), session.ID); err != nil {
		slog.Error("failed to delete session",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	slog.Info("session deleted",
		slog.String("session_id", session.ID),
		slog.String("owner_id", user.ID),
	)

	w.WriteHeader(http.StatusNoContent)
}

// JoinSession はセッションの永続参加者リストに自分を追加する。
// POST /api/sessions/:id/join
func (h *SessionHandler) JoinSession(w http.ResponseWriter, r *http.Request) {
	user, session, ok := h.loadSessionWithAccess(w, r)
	if !ok {
		return
	}

	if session.OwnerID != user.ID && !session.IsParticipant(user.ID) {
		if err := h.store.AddParticipant(r.Context(), session.ID, user.ID); err != nil {
			slog.Error("failed to add participant",
				slog.String("session_id", session.ID),
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
		session.Participants = append(session.Participants, user.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(session))
}

// LeaveSession はセッションの永続参加者リストから自分を削除する。
// POST /api/sessions/:id/leave
func (h *SessionHandler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	user, session, ok := h.loadSessionWithAccess(w, r)
	if !ok {
		return
	}

	if err := h.store.RemoveParticipant(r.Context(), session.ID, user.ID); err != nil {
		slog.Error("failed to remove participant",
			slog.String("session_id", session.ID),
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// InviteParticipant は指定ユーザーを参加者として追加する。オーナーのみ実行可能。
// POST /api/sessions/:id/invite
func (h *SessionHandler) InviteParticipant(w http.ResponseWriter, r *http.Request) {
	user, session, ok := h.loadSessionWithAccess(w, r)
	if !ok {
		return
	}
	if session.OwnerID != user.ID {
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewAccessDeniedError())
		return
	}

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("userId is required"))
		return
	}

	if err := h.store.AddParticipant(r.Context(), session.ID, req.UserID); err != nil {
		slog.Error("failed to invite participant",
			slog.String("session_id", session.ID),
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	slog.Info("participant invited",
		slog.String("session_id", session.ID),
		slog.String("user_id", req.UserID),
		slog.String("invited_by", user.ID),
	)

	w.WriteHeader(http.StatusNoContent)
}

// loadSessionWithAccess は認証済みユーザーとURLパラメータのセッションを取得し、
// アクセス権を検証する。失敗時はエラーレスポンスを書き込みfalseを返す。
func (h *SessionHandler) loadSessionWithAccess(w http.ResponseWriter, r *http.Request) (model.UserSnapshot, *model.Session, bool) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return model.UserSnapshot{}, nil, false
	}

	sessionID := chi.URLParam(r, "id")
	session, err := h.store.FindByID(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to find session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return model.UserSnapshot{}, nil, false
	}
	if session == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSessionNotFoundError(sessionID))
		return model.UserSnapshot{}, nil, false
	}
	if !session.HasAccess(user.ID) {
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewAccessDeniedError())
		return model.UserSnapshot{}, nil, false
	}

	return user, session, true
}

// parseQueryInt はクエリパラメータを整数として読み取り、範囲外はクランプする。
func parseQueryInt(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
