// Package lock は重複するバッチ実行を防ぐ実行単位のロックを提供する。
// 複数のワーカープロセスが同じスケジュールで起動された場合でも、
// 1回のスケジュール時刻につき1プロセスのみがバッチを実行する。
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock は実行単位のロックのインターフェース。
type Lock interface {
	// Acquire はロックの取得を試みる。取得できた場合は解放用トークンを返す。
	// ほかのプロセスが保持中の場合はok=falseを返し、エラーにはしない。
	Acquire(ctx context.Context) (token string, ok bool, err error)

	// Release は自分が取得したロックを解放する。
	// トークンが一致しない場合（TTL失効後に他プロセスが取得した場合）は何もしない。
	Release(ctx context.Context, token string) error
}

// NopLock は常に取得に成功するLock実装。
// Redisが構成されていない環境では、スケジューラの単一プロセス前提に委ねる。
type NopLock struct{}

func (NopLock) Acquire(ctx context.Context) (string, bool, error) { return "nop", true, nil }
func (NopLock) Release(ctx context.Context, token string) error   { return nil }

// NewRedisClient はRedis接続URLを解釈し、疎通を確認したクライアントを返す。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("Redis接続URLの解釈に失敗しました: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redisへの疎通確認に失敗しました: %w", err)
	}

	return client, nil
}

// releaseScript はトークンが一致する場合のみキーを削除する。
// 比較と削除をアトミックに行い、TTL失効後に他プロセスが取得した
// ロックを誤って解放しないようにする。
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RunLock はRedisのSET NXによるLock実装。
// TTLにより、解放前にプロセスが異常終了してもロックは自動的に失効する。
type RunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRunLock はRunLockを生成する。TTLが0以下の場合は10分を使用する。
func NewRunLock(client *redis.Client, key string, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RunLock{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// Acquire はSET NXでロックの取得を試みる。
func (l *RunLock) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("ロックの取得に失敗しました: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release はトークンが一致する場合のみロックを解放する。
func (l *RunLock) Release(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("ロックの解放に失敗しました: %w", err)
	}
	return nil
}
