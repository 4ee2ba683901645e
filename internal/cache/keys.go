package cache

import "fmt"

// キーレイアウト。ユーザーセッションレコードはAPIゲートウェイ側が書き込み、
// このサービスは読み取りのみ行う。session:*キーはこのサービスが所有する。

// UserKey は認証クレデンシャルに対応するユーザーセッションレコードのキーを返す。
func UserKey(credential string) string {
	return fmt.Sprintf("user:%s", credential)
}

// SessionCodeKey はセッションの最新コードミラーのキーを返す。
func SessionCodeKey(sessionID string) string {
	return fmt.Sprintf("session:%s:code", sessionID)
}

// SessionPresenceKey はセッションの参加者一覧ミラーのキーを返す。
func SessionPresenceKey(sessionID string) string {
	return fmt.Sprintf("session:%s:presence", sessionID)
}

// SessionChannel はセッションイベントのpub/subチャンネル名を返す。
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
