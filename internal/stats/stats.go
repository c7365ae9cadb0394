// Package stats 记录每个身份的累计流量。
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"liuproxy_vless/internal/shared/types"
)

// Recorder 在会话结束时收到一次流量汇总。实现必须可并发调用。
type Recorder interface {
	Record(ctx context.Context, id uuid.UUID, up, down int64) error
	Close() error
}

// Nop 在未配置 redis 时使用
type Nop struct{}

func (Nop) Record(context.Context, uuid.UUID, int64, int64) error { return nil }
func (Nop) Close() error                                          { return nil }

// RedisRecorder 把流量累加到 hash <prefix><uuid> 的 up/down 字段。
type RedisRecorder struct {
	client *redis.Client
	prefix string
}

var _ Recorder = (*RedisRecorder)(nil)

// New 按配置返回 Recorder；RedisAddr 为空时返回 Nop。
func New(conf types.StatsConf) (Recorder, error) {
	if conf.RedisAddr == "" {
		return Nop{}, nil
	}
	return NewRedisRecorder(conf.RedisAddr, conf.RedisPassword, conf.RedisDB, conf.KeyPrefix)
}

func NewRedisRecorder(addr, password string, db int, prefix string) (*RedisRecorder, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisRecorder{client: rdb, prefix: prefix}, nil
}

func (r *RedisRecorder) Key(id uuid.UUID) string { return r.prefix + id.String() }

func (r *RedisRecorder) Record(ctx context.Context, id uuid.UUID, up, down int64) error {
	if up == 0 && down == 0 {
		return nil
	}
	key := r.Key(id)
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "up", up)
	pipe.HIncrBy(ctx, key, "down", down)
	pipe.HSet(ctx, key, "last_seen", time.Now().Unix())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record traffic for %s: %w", key, err)
	}
	return nil
}

func (r *RedisRecorder) Close() error { return r.client.Close() }
