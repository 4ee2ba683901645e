// Package auth は接続クレデンシャルの検証を提供する。
// トークンの発行と署名検証は外部のAPIゲートウェイが担う。このサービスは
// ゲートウェイがプレゼンスキャッシュに書き込んだユーザーセッションレコードを
// 参照することでクレデンシャルを検証済みユーザー情報に解決する。
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/coderev/internal/cache"
	"github.com/hitoshi/coderev/internal/model"
)

// ErrUnauthenticated はクレデンシャルが無効または期限切れの場合に返される。
var ErrUnauthenticated = errors.New("auth: invalid or expired credential")

// Verifier はクレデンシャルを検証済みユーザー情報に解決するインターフェース。
type Verifier interface {
	// Verify はクレデンシャルを検証し、ユーザースナップショットを返す。
	// 無効な場合はErrUnauthenticatedを返す。
	Verify(ctx context.Context, credential string) (model.UserSnapshot, error)
}

// CacheVerifier はプレゼンスキャッシュのユーザーセッションレコードを参照するVerifier実装。
type CacheVerifier struct {
	cache cache.Cache
}

// NewCacheVerifier はCacheVerifierを生成する。
func NewCacheVerifier(c cache.Cache) *CacheVerifier {
	return &CacheVerifier{cache: c}
}

// Verify はクレデンシャルに対応するユーザーセッションレコードをキャッシュから取得する。
// レコードが存在しない（未ログインまたは期限切れ）場合はErrUnauthenticatedを返す。
func (v *CacheVerifier) Verify(ctx context.Context, credential string) (model.UserSnapshot, error) {
	if credential == "" {
		return model.UserSnapshot{}, ErrUnauthenticated
	}

	raw, err := v.cache.Get(ctx, cache.UserKey(credential))
	if errors.Is(err, cache.ErrCacheMiss) {
		return model.UserSnapshot{}, ErrUnauthenticated
	}
	if err != nil {
		return model.UserSnapshot{}, fmt.Errorf("failed to look up user session: %w", err)
	}

	var user model.UserSnapshot
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return model.UserSnapshot{}, fmt.Errorf("failed to decode user session record: %w", err)
	}
	if user.ID == "" {
		return model.UserSnapshot{}, ErrUnauthenticated
	}

	return user, nil
}

// compile-time interface check
var _ Verifier = (*CacheVerifier)(nil)
