package collab

import (
	"testing"

	"github.com/hitoshi/coderev/internal/model"
)

func testUser(id string) model.UserSnapshot {
	return model.UserSnapshot{ID: id, Email: id + "@example.com", Name: "user " + id, Role: "developer"}
}

// TestRegistry_JoinSeedsFromStore は初回参加時にシードコードで状態が生成されることを検証する。
func TestRegistry_JoinSeedsFromStore(t *testing.T) {
	r := NewRegistry()

	snap := r.Join("s1", "c1", testUser("u1"), "const a = 1;", "javascript")

	if snap.Code != "const a = 1;" {
		t.Errorf("Code = %q, want seed code", snap.Code)
	}
	if snap.Language != "javascript" {
		t.Errorf("Language = %q, want %q", snap.Language, "javascript")
	}
	if len(snap.Participants) != 1 {
		t.Errorf("len(Participants) = %d, want 1", len(snap.Participants))
	}
}

// TestRegistry_JoinIgnoresSeedWhenActive は2人目の参加でシードが無視され、
// プロセス内の作業コピーが優先されることを検証する。
func TestRegistry_JoinIgnoresSeedWhenActive(t *testing.T) {
	r := NewRegistry()
	r.Join("s1", "c1", testUser("u1"), "original", "go")
	r.ApplyCodeChange("s1", "edited")

	snap := r.Join("s1", "c2", testUser("u2"), "stale seed", "python")

	if snap.Code != "edited" {
		t.Errorf("Code = %q, want in-memory working copy %q", snap.Code, "edited")
	}
	if snap.Language != "go" {
		t.Errorf("Language = %q, want %q", snap.Language, "go")
	}
	if len(snap.Participants) != 2 {
		t.Errorf("len(Participants) = %d, want 2", len(snap.Participants))
	}
}

// TestRegistry_ApplyCodeChangeLastWriteWins は後から届いた全文が常に勝つことを検証する。
func TestRegistry_ApplyCodeChangeLastWriteWins(t *testing.T) {
	r := NewRegistry()
	r.Join("s1", "c1", testUser("u1"), "", "go")

	r.ApplyCodeChange("s1", "version A")
	r.ApplyCodeChange("s1", "version B")

	snap, ok := r.Snapshot("s1")
	if !ok {
		t.Fatal("session should be active")
	}
	if snap.Code != "version B" {
		t.Errorf("Code = %q, want %q", snap.Code, "version B")
	}
}

// TestRegistry_ApplyCodeChangeInactiveSession は非アクティブセッションへの変更が拒否されることを検証する。
func TestRegistry_ApplyCodeChangeInactiveSession(t *testing.T) {
	r := NewRegistry()

	if r.ApplyCodeChange("ghost", "code") {
		t.Error("ApplyCodeChange on inactive session should return false")
	}
}

// TestRegistry_RemoveParticipantTeardown は最後の参加者の退出でセッション状態が
// 即座に破棄され、次の参加がシードから再生成されることを検証する。
func TestRegistry_RemoveParticipantTeardown(t *testing.T) {
	r := NewRegistry()
	r.Join("s1", "c1", testUser("u1"), "seed v1", "go")
	r.ApplyCodeChange("s1", "working copy")

	user, remaining, existed := r.RemoveParticipant("s1", "c1")
	if !existed {
		t.Fatal("participant should have existed")
	}
	if user.ID != "u1" {
		t.Errorf("removed user = %q, want u1", user.ID)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after teardown", r.Len())
	}

	// 再参加は新しいシードから始まる
	snap := r.Join("s1", "c2", testUser("u2"), "seed v2", "go")
	if snap.Code != "seed v2" {
		t.Errorf("Code after reseed = %q, want %q", snap.Code, "seed v2")
	}
}

// TestRegistry_RemoveParticipantIdempotent は未参加接続の除去が安全に失敗することを検証する。
func TestRegistry_RemoveParticipantIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Join("s1", "c1", testUser("u1"), "", "go")

	_, remaining, existed := r.RemoveParticipant("s1", "c2")
	if existed {
		t.Error("unknown connection should not count as existed")
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}

	_, _, existed = r.RemoveParticipant("missing", "c1")
	if existed {
		t.Error("remove from inactive session should not count as existed")
	}
}

// TestRegistry_CursorLifecycle はカーソルの記録と退出時のクリアを検証する。
func TestRegistry_CursorLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Join("s1", "c1", testUser("u1"), "", "go")
	r.Join("s1", "c2", testUser("u2"), "", "go")

	if !r.SetCursor("s1", "c1", testUser("u1"), model.CursorPosition{Line: 3, Column: 7}) {
		t.Fatal("SetCursor should succeed on active session")
	}

	cur, ok := r.Cursor("s1", "c1")
	if !ok {
		t.Fatal("cursor should be recorded")
	}
	if cur.Position.Line != 3 || cur.Position.Column != 7 {
		t.Errorf("Position = %+v, want line 3 column 7", cur.Position)
	}

	r.RemoveParticipant("s1", "c1")
	if _, ok := r.Cursor("s1", "c1"); ok {
		t.Error("cursor should be cleared when participant leaves")
	}
}

// TestRegistry_CollectDirty はdirtyフラグの収集とクリアを検証する。
func TestRegistry_CollectDirty(t *testing.T) {
	r := NewRegistry()
	r.Join("s1", "c1", testUser("u1"), "", "go")
	r.Join("s2", "c2", testUser("u2"), "", "go")
	r.ApplyCodeChange("s1", "changed")

	dirty := r.CollectDirty()
	if len(dirty) != 1 {
		t.Fatalf("len(dirty) = %d, want 1", len(dirty))
	}
	if dirty[0].SessionID != "s1" || dirty[0].Code != "changed" {
		t.Errorf("dirty[0] = %+v, want s1/changed", dirty[0])
	}

	// 2回目の収集は空
	if again := r.CollectDirty(); len(again) != 0 {
		t.Errorf("second CollectDirty returned %d entries, want 0", len(again))
	}
}

// TestRegistry_ParticipantConnIDs は配信先接続IDの列挙を検証する。
func TestRegistry_ParticipantConnIDs(t *testing.T) {
	r := NewRegistry()
	r.Join("s1", "c1", testUser("u1"), "", "go")
	r.Join("s1", "c2", testUser("u2"), "", "go")

	ids := r.ParticipantConnIDs("s1")
	if len(ids) != 2 {
		t.Errorf("len(ids) = %d, want 2", len(ids))
	}

	if ids := r.ParticipantConnIDs("missing"); ids != nil {
		t.Errorf("inactive session should return nil, got %v", ids)
	}
}
