// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, session, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeAccessDenied     = "ACCESS_DENIED"
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeUpstreamFailure  = "UPSTREAM_FAILURE"
	ErrCodeMalformedPayload = "MALFORMED_PAYLOAD"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotJoined        = "NOT_JOINED"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// NewUnauthenticatedError は認証失敗エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "有効な認証トークンでログインし直してください。",
	}
}

// NewAccessDeniedError はアクセス拒否エラーを生成する。
func NewAccessDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccessDenied,
		Message:  "このセッションへのアクセス権がありません。",
		Category: "auth",
		Action:   "セッションのオーナーに招待を依頼してください。",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "session",
		Action:   "セッションIDを確認してください。",
	}
}

// NewUpstreamFailureError は外部依存の障害エラーを生成する。
func NewUpstreamFailureError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailure,
		Message:  fmt.Sprintf("外部サービスとの通信に失敗しました: %s", what),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMalformedPayloadError は不正なペイロードエラーを生成する。
func NewMalformedPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedPayload,
		Message:  fmt.Sprintf("イベントペイロードが不正です: %s", reason),
		Category: "validation",
		Action:   "クライアントのバージョンを確認してください。",
	}
}

// NewValidationError は入力バリデーションエラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNotJoinedError はセッション未参加エラーを生成する。
func NewNotJoinedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotJoined,
		Message:  "セッションに参加していません。",
		Category: "session",
		Action:   "先にjoinSessionイベントを送信してください。",
	}
}
