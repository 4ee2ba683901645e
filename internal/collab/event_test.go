package collab

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hitoshi/coderev/internal/model"
)

func cursorAt(line, column int) model.CursorPosition {
	return model.CursorPosition{Line: line, Column: column}
}

// TestParseInbound_ValidFrame は正常なフレームの読み込みを検証する。
func TestParseInbound_ValidFrame(t *testing.T) {
	ev, err := ParseInbound([]byte(`{"type":"joinSession","payload":{"sessionId":"s1"}}`))
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}
	if ev.Type != EventJoinSession {
		t.Errorf("Type = %q, want %q", ev.Type, EventJoinSession)
	}
}

// TestParseInbound_RejectsGarbage は非JSONフレームが拒否されることを検証する。
func TestParseInbound_RejectsGarbage(t *testing.T) {
	if _, err := ParseInbound([]byte("not json")); err == nil {
		t.Error("expected error for non-JSON frame")
	}
}

// TestParseInbound_RejectsMissingType はtype欠落フレームが拒否されることを検証する。
func TestParseInbound_RejectsMissingType(t *testing.T) {
	if _, err := ParseInbound([]byte(`{"payload":{}}`)); err == nil {
		t.Error("expected error for frame without type")
	}
}

// TestPayloadValidation は各ペイロードの必須フィールド検証をまとめて確認する。
func TestPayloadValidation(t *testing.T) {
	line0 := 0
	line5 := 5

	tests := []struct {
		name    string
		payload validator
		wantErr string
	}{
		{"join ok", &JoinPayload{SessionID: "s1"}, ""},
		{"join missing session", &JoinPayload{}, "sessionId"},
		{"code change ok", &CodeChangePayload{SessionID: "s1", Code: ""}, ""},
		{"code change missing session", &CodeChangePayload{Code: "x"}, "sessionId"},
		{"cursor ok", &CursorPayload{SessionID: "s1", Position: cursorAt(1, 0)}, ""},
		{"cursor line zero", &CursorPayload{SessionID: "s1", Position: cursorAt(0, 0)}, "line"},
		{"cursor negative column", &CursorPayload{SessionID: "s1", Position: cursorAt(2, -1)}, "column"},
		{"comment ok whole file", &CommentPayload{SessionID: "s1", Comment: CommentInput{Text: "nice"}}, ""},
		{"comment ok with line", &CommentPayload{SessionID: "s1", Comment: CommentInput{Line: &line5, Text: "nice"}}, ""},
		{"comment empty text", &CommentPayload{SessionID: "s1"}, "text"},
		{"comment line zero", &CommentPayload{SessionID: "s1", Comment: CommentInput{Line: &line0, Text: "x"}}, "line"},
		{"review ok", &ReviewPayload{SessionID: "s1", Code: "x", Language: "go"}, ""},
		{"review missing code", &ReviewPayload{SessionID: "s1", Language: "go"}, "code"},
		{"review missing language", &ReviewPayload{SessionID: "s1", Code: "x"}, "language"},
		{"typing ok", &TypingPayload{SessionID: "s1", IsTyping: true}, ""},
		{"typing missing session", &TypingPayload{}, "sessionId"},
		{"leave ok", &LeavePayload{SessionID: "s1"}, ""},
		{"leave missing session", &LeavePayload{}, "sessionId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestEncodeOutbound_FrameShape は送信フレームがtype/payload構造になることを検証する。
func TestEncodeOutbound_FrameShape(t *testing.T) {
	frame, err := EncodeOutbound(EventUserTyping, UserTypingPayload{UserID: "u1", User: testUser("u1"), IsTyping: true})
	if err != nil {
		t.Fatalf("EncodeOutbound failed: %v", err)
	}

	var ev struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(frame, &ev); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if ev.Type != "userTyping" {
		t.Errorf("type = %q, want %q", ev.Type, "userTyping")
	}

	var p UserTypingPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("payload does not round-trip: %v", err)
	}
	if !p.IsTyping || p.UserID != "u1" {
		t.Errorf("payload = %+v, want isTyping=true userId=u1", p)
	}
}
