// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/coderev/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
// コラボレーションエンジンからはFindByID、AppendComment、AppendReview、
// UpdateCode、AddParticipantのみが呼ばれる。それ以外はREST層専用。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// ListByUser はユーザーがオーナーまたは参加者であるセッション一覧を
	// updated_at降順で返す。2番目の戻り値は総件数。
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Session, int, error)

	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// Update はセッションのメタデータ（name, description, language, is_public, code）を更新する。
	Update(ctx context.Context, session *model.Session) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// AppendComment はセッションのコメント配列にコメントを追記する。
	AppendComment(ctx context.Context, sessionID string, comment *model.Comment) error

	// AppendReview はセッションのレビュー配列にレビュー記録を追記する。
	AppendReview(ctx context.Context, sessionID string, review *model.ReviewRecord) error

	// UpdateCode はセッションのコードフィールドのみを置き換える。
	UpdateCode(ctx context.Context, sessionID, code string) error

	// AddParticipant は参加者を追加する。すでに参加済みの場合は何もしない。
	AddParticipant(ctx context.Context, sessionID, userID string) error

	// RemoveParticipant は参加者を削除する。
	RemoveParticipant(ctx context.Context, sessionID, userID string) error
}
