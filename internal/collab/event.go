// Package collab はリアルタイム共同編集エンジンを提供する。
// WebSocket接続のライフサイクル管理、アクティブセッションのレジストリ、
// イベントのバリデーションとブロードキャストを担う。
package collab

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/coderev/internal/model"
)

// EventType はイベント語彙の識別子。
// クライアントとサーバーで合意済みのクローズドな集合であり、
// 未知のタイプや必須フィールドの欠落は境界で拒否する。
type EventType string

// インバウンドイベント
const (
	EventJoinSession     EventType = "joinSession"
	EventCodeChange      EventType = "codeChange"
	EventCursorPosition  EventType = "cursorPosition"
	EventAddComment      EventType = "addComment"
	EventRequestAIReview EventType = "requestAIReview"
	EventTyping          EventType = "typing"
	EventLeaveSession    EventType = "leaveSession"
)

// アウトバウンドイベント
const (
	EventSessionJoined   EventType = "sessionJoined"
	EventUserJoined      EventType = "userJoined"
	EventUserLeft        EventType = "userLeft"
	EventCodeChanged     EventType = "codeChange"
	EventCursorMoved     EventType = "cursorPosition"
	EventCommentAdded    EventType = "commentAdded"
	EventReviewStarted   EventType = "reviewStarted"
	EventReviewCompleted EventType = "reviewCompleted"
	EventUserTyping      EventType = "userTyping"
	EventError           EventType = "error"
)

// InboundEvent はクライアントから受信するイベントの外形。
type InboundEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseInbound は受信フレームをInboundEventに読み込む。
func ParseInbound(data []byte) (*InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("invalid event frame: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("missing event type")
	}
	return &ev, nil
}

// JoinPayload はjoinSessionイベントのペイロード。
type JoinPayload struct {
	SessionID string `json:"sessionId"`
}

// Validate は必須フィールドを検証する。
func (p *JoinPayload) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	return nil
}

// CodeChangePayload はcodeChangeイベントのペイロード。
// Changesはクライアント間でのみ意味を持つ不透明なデータとして転送する。
type CodeChangePayload struct {
	SessionID string          `json:"sessionId"`
	Code      string          `json:"code"`
	Changes   json.RawMessage `json:"changes,omitempty"`
}

// Validate は必須フィールドを検証する。
// 空文字列のコードは全削除として有効。
func (p *CodeChangePayload) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	return nil
}

// CursorPayload はcursorPositionイベントのペイロード。
type CursorPayload struct {
	SessionID string               `json:"sessionId"`
	Position  model.CursorPosition `json:"position"`
}

// Validate は必須フィールドを検証する。
func (p *CursorPayload) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	if p.Position.Line < 1 {
		return fmt.Errorf("position.line must be >= 1")
	}
	if p.Position.Column < 0 {
		return fmt.Errorf("position.column must be >= 0")
	}
	return nil
}

// CommentInput はaddCommentイベントで受け取るコメント本体。
// Lineがnilの場合はファイル全体へのコメント。
type CommentInput struct {
	Line *int   `json:"line"`
	Text string `json:"text"`
}

// CommentPayload はaddCommentイベントのペイロード。
type CommentPayload struct {
	SessionID string       `json:"sessionId"`
	Comment   CommentInput `json:"comment"`
}

// Validate は必須フィールドを検証する。
func (p *CommentPayload) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	if p.Comment.Text == "" {
		return fmt.Errorf("comment.text is required")
	}
	if p.Comment.Line != nil && *p.Comment.Line < 1 {
		return fmt.Errorf("comment.line must be >= 1")
	}
	return nil
}

// ReviewPayload はrequestAIReviewイベントのペイロード。
type ReviewPayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

// Validate は必須フィールドを検証する。
func (p *ReviewPayload) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	if p.Code == "" {
		return fmt.Errorf("code is required")
	}
	if p.Language == "" {
		return fmt.Errorf("language is required")
	}
	return nil
}

// TypingPayload はtypingイベントのペイロード。
type TypingPayload struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
}

// Validate は必須フィールドを検証する。
func (p *TypingPayload) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	return nil
}

// LeavePayload はleaveSessionイベントのペイロード。
type LeavePayload struct {
	SessionID string `json:"sessionId"`
}

// Validate は必須フィールドを検証する。
func (p *LeavePayload) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	return nil
}

// --- アウトバウンドペイロード ---

// SessionJoinedPayload はsessionJoinedイベント（参加者本人へのユニキャスト）のペイロード。
type SessionJoinedPayload struct {
	SessionID    string               `json:"sessionId"`
	Code         string               `json:"code"`
	Language     string               `json:"language"`
	Participants []model.UserSnapshot `json:"participants"`
}

// UserJoinedPayload はuserJoinedイベントのペイロード。
type UserJoinedPayload struct {
	User             model.UserSnapshot `json:"user"`
	ParticipantCount int                `json:"participantCount"`
}

// UserLeftPayload はuserLeftイベントのペイロード。
type UserLeftPayload struct {
	User             model.UserSnapshot `json:"user"`
	ParticipantCount int                `json:"participantCount"`
}

// CodeChangedPayload はcodeChangeブロードキャストのペイロード。
// パッチではなく常に全文を配信する（last-write-wins）。
type CodeChangedPayload struct {
	Code    string             `json:"code"`
	Changes json.RawMessage    `json:"changes,omitempty"`
	Author  model.UserSnapshot `json:"author"`
}

// CursorMovedPayload はcursorPositionブロードキャストのペイロード。
type CursorMovedPayload struct {
	UserID   string               `json:"userId"`
	User     model.UserSnapshot   `json:"user"`
	Position model.CursorPosition `json:"position"`
}

// ReviewStartedPayload はreviewStartedイベントのペイロード。
type ReviewStartedPayload struct {
	RequestedBy model.UserSnapshot `json:"requestedBy"`
}

// ReviewCompletedPayload はreviewCompletedイベントのペイロード。
type ReviewCompletedPayload struct {
	ReviewID    string             `json:"reviewId"`
	RequestedBy model.UserSnapshot `json:"requestedBy"`
	Result      json.RawMessage    `json:"result"`
}

// UserTypingPayload はuserTypingイベントのペイロード。
type UserTypingPayload struct {
	UserID   string             `json:"userId"`
	User     model.UserSnapshot `json:"user"`
	IsTyping bool               `json:"isTyping"`
}

// ErrorPayload はerrorイベント（送信元へのユニキャスト）のペイロード。
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutboundEvent は送信フレームの外形。
type OutboundEvent struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// EncodeOutbound はアウトバウンドイベントをワイヤフレームにエンコードする。
// ブロードキャストでは全受信者に同一フレームを配るため、エンコードは1回で済ませる。
func EncodeOutbound(t EventType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(OutboundEvent{Type: t, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", t, err)
	}
	return data, nil
}
