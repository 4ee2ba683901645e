package collab

import (
	"sync"
	"time"

	"github.com/hitoshi/coderev/internal/model"
)

// CursorState は接続ごとのカーソル状態。
type CursorState struct {
	User      model.UserSnapshot
	Position  model.CursorPosition
	Timestamp time.Time
}

// activeSession は現在ライブなセッションのプロセス内状態。
// 少なくとも1接続がセッションを開いている間だけ存在し、
// 参加者が0になった瞬間に破棄される（再接続の猶予期間はない）。
// 永続Sessionのコピーではなく、先行しうる作業状態のキャッシュ。
type activeSession struct {
	participants map[string]model.UserSnapshot // 接続ID -> ユーザースナップショット
	code         string
	language     string
	cursors      map[string]CursorState // 接続ID -> カーソル状態
	lastActivity time.Time
	dirty        bool // 最後のフラッシュ以降にコードが変更されたか
}

// Snapshot はsessionJoined応答用のセッション状態スナップショット。
type Snapshot struct {
	SessionID    string
	Code         string
	Language     string
	Participants []model.UserSnapshot
}

// DirtyCode はストアへのフラッシュ対象のコード。
type DirtyCode struct {
	SessionID string
	Code      string
}

// Registry はプロセス内のアクティブセッションの唯一の権威。
// 状態の変更はすべてRegistryのメソッド経由で行い、変更面を閉じる。
// メソッドは内部ミューテックスで直列化され、1イベント分の変更が
// 分割されずに完了する（参照実装のイベントループと同じ保証）。
// 永続化は一切行わない。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*activeSession
}

// NewRegistry はRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*activeSession),
	}
}

// Join は接続をセッションに参加させ、参加後のスナップショットを返す。
// セッション状態が存在しない場合は永続Sessionのコードと言語をシードとして
// 遅延生成する。既存の場合はシード引数は無視される（プロセス内の
// 作業コピーが常に優先）。
func (r *Registry) Join(sessionID, connID string, user model.UserSnapshot, seedCode, seedLanguage string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &activeSession{
			participants: make(map[string]model.UserSnapshot),
			code:         seedCode,
			language:     seedLanguage,
			cursors:      make(map[string]CursorState),
		}
		r.sessions[sessionID] = s
	}

	s.participants[connID] = user
	s.lastActivity = time.Now()

	return snapshotLocked(sessionID, s)
}

// Snapshot は現在のセッション状態スナップショットを返す。
// セッションがアクティブでない場合はfalseを返す。
func (r *Registry) Snapshot(sessionID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(sessionID, s), true
}

// snapshotLocked は呼び出し側がロックを保持している前提でスナップショットを作る。
func snapshotLocked(sessionID string, s *activeSession) Snapshot {
	participants := make([]model.UserSnapshot, 0, len(s.participants))
	for _, u := range s.participants {
		participants = append(participants, u)
	}
	return Snapshot{
		SessionID:    sessionID,
		Code:         s.code,
		Language:     s.language,
		Participants: participants,
	}
}

// HasParticipant は接続がセッションの現参加者かを返す。
func (r *Registry) HasParticipant(sessionID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	_, ok = s.participants[connID]
	return ok
}

// ParticipantConnIDs はセッションの全参加接続IDを返す。
// ブロードキャストの配信先決定に使用する。
func (r *Registry) ParticipantConnIDs(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	return ids
}

// ApplyCodeChange はセッションのコードを置き換え、最終アクティビティを更新する。
// 差分やマージは行わない: 最新の書き込みが常に勝つ。
// セッションがアクティブでない場合はfalseを返す。
func (r *Registry) ApplyCodeChange(sessionID, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.code = code
	s.dirty = true
	s.lastActivity = time.Now()
	return true
}

// SetCursor は接続のカーソル位置を記録する。
// 永続化もブロードキャストの重複排除も行わない純粋なインメモリ記録。
func (r *Registry) SetCursor(sessionID, connID string, user model.UserSnapshot, pos model.CursorPosition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.cursors[connID] = CursorState{
		User:      user,
		Position:  pos,
		Timestamp: time.Now(),
	}
	return true
}

// ClearCursor は接続のカーソル記録を削除する。
func (r *Registry) ClearCursor(sessionID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		delete(s.cursors, connID)
	}
}

// Cursor は接続のカーソル状態を返す。
func (r *Registry) Cursor(sessionID, connID string) (CursorState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return CursorState{}, false
	}
	c, ok := s.cursors[connID]
	return c, ok
}

// RemoveParticipant は接続をセッションから除去し、残り参加者数を返す。
// カーソル記録も同時に除去する。参加者が0になった場合はセッション状態を
// 即座に破棄する（次のjoinは永続Sessionから再シードされる）。
// 接続が参加者でなかった場合はexisted=falseを返す（冪等）。
func (r *Registry) RemoveParticipant(sessionID, connID string) (user model.UserSnapshot, remaining int, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return model.UserSnapshot{}, 0, false
	}

	user, existed = s.participants[connID]
	if !existed {
		return model.UserSnapshot{}, len(s.participants), false
	}

	delete(s.participants, connID)
	delete(s.cursors, connID)
	remaining = len(s.participants)

	if remaining == 0 {
		delete(r.sessions, sessionID)
	}

	return user, remaining, true
}

// Len は現在アクティブなセッション数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CollectDirty は前回の収集以降にコードが変更されたセッションの
// コードを返し、dirtyフラグをクリアする。定期フラッシュで使用する。
func (r *Registry) CollectDirty() []DirtyCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []DirtyCode
	for id, s := range r.sessions {
		if s.dirty {
			out = append(out, DirtyCode{SessionID: id, Code: s.code})
			s.dirty = false
		}
	}
	return out
}
