// Package model はドメインモデルを定義する。
package model

// UserSnapshot は検証済みユーザー情報のスナップショットを表す。
// 接続確立時に1回取得し、接続の生存期間中はイミュータブルとして扱う。
// ブロードキャストに埋め込まれる識別情報はすべてこのスナップショットの値コピー。
type UserSnapshot struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}
