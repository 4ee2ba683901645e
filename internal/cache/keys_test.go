package cache

import "testing"

// キーレイアウトがAPIゲートウェイと合意した形式であることを検証
func TestKeyLayout(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"user key", UserKey("tok-abc"), "user:tok-abc"},
		{"code key", SessionCodeKey("s-1"), "session:s-1:code"},
		{"presence key", SessionPresenceKey("s-1"), "session:s-1:presence"},
		{"channel", SessionChannel("s-1"), "session:s-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
