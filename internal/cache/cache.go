// Package cache はRedisを使用したプレゼンスキャッシュを提供する。
// 最新コードスナップショットとプレゼンス情報のTTL付きミラー、および
// 将来のマルチインスタンス配信に向けたpub/subを担う。
// 権威データではなくベストエフォートのミラーであり、書き込み失敗は
// 呼び出し側でログに残して処理を継続する。
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss はキーが存在しない場合に返される。
var ErrCacheMiss = errors.New("cache: key not found")

// Cache はキー/バリューキャッシュとpub/subのインターフェース。
type Cache interface {
	// Get は指定キーの値を取得する。キーが存在しない場合はErrCacheMissを返す。
	Get(ctx context.Context, key string) (string, error)

	// Set は指定キーにTTL付きで値を書き込む。ttlが0の場合は無期限。
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete は指定キーを削除する。
	Delete(ctx context.Context, key string) error

	// Publish はチャンネルにメッセージを配信する。
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe はチャンネルの購読を開始し、受信メッセージのチャンネルと
	// 購読解除関数を返す。
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)
}

// RedisCache はgo-redisを使用したCache実装。
type RedisCache struct {
	client *redis.Client
}

// Options はRedis接続設定。
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache はRedisに接続してRedisCacheを生成する。
// 接続確認のためにPINGを送り、失敗した場合はエラーを返す。
func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get は指定キーの値を取得する。
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Set は指定キーにTTL付きで値を書き込む。
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Publish はチャンネルにメッセージを配信する。
func (c *RedisCache) Publish(ctx context.Context, channel, payload string) error {
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe はチャンネルの購読を開始する。
func (c *RedisCache) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	sub := c.client.Subscribe(ctx, channel)

	// 購読確立を待つ
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- msg.Payload
		}
	}()

	return out, sub.Close, nil
}

// Close はRedis接続を閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// compile-time interface check
var _ Cache = (*RedisCache)(nil)
