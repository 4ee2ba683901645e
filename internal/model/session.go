// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// Session は共同編集セッションを表す。
// コードバッファ・オーナー・参加者・コメント・レビューを持つ永続エンティティ。
// Participantsにオーナーは含まれない（オーナーは常に暗黙の参加権を持つ）。
type Session struct {
	ID           string
	Name         string
	Description  string
	OwnerID      string
	Participants []string
	Code         string
	Language     string
	Comments     []Comment
	Reviews      []ReviewRecord
	IsPublic     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasAccess はユーザーがセッションにアクセス可能かを判定する。
// オーナー、参加者、または公開セッションの場合にアクセスを許可する。
func (s *Session) HasAccess(userID string) bool {
	if s.OwnerID == userID || s.IsPublic {
		return true
	}
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// IsParticipant は指定ユーザーがParticipantsに含まれるかを返す。
// オーナーは含まれない。
func (s *Session) IsParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Comment はセッション内のインラインコメントを表す。
// Authorは投稿時点のユーザー情報のスナップショット（非正規化）。
type Comment struct {
	ID        string       `json:"id"`
	Line      *int         `json:"line"` // nilの場合はファイル全体へのコメント
	Text      string       `json:"text"`
	Author    UserSnapshot `json:"author"`
	Timestamp time.Time    `json:"timestamp"`
}

// ReviewRecord はAIレビューの実行記録を表す。
// Resultは外部Reviewerが所有する構造で、この層では不透明なJSONとして扱う。
type ReviewRecord struct {
	ID          string          `json:"id"`
	RequestedBy UserSnapshot    `json:"requestedBy"`
	Result      json.RawMessage `json:"result"`
	Timestamp   time.Time       `json:"timestamp"`
}

// CursorPosition はエディタ内のカーソル位置を表す。
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}
