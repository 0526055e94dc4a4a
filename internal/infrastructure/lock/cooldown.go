package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ============================================================================
// 冷却锁
// ============================================================================
//
// 用于限制同一实体在一段时间内只能执行一次某个操作（如 earn）。
//
// 加锁：SET key owner NX EX ttl
//   - NX 保证同一时刻只有一个调用方拿到
//   - EX 到期自动释放，冷却结束不需要任何清理
//
// 释放：只在操作本身失败时调用，用 Lua 脚本校验 owner 后删除，
// 避免误删已过期后被别人重新拿到的锁
//
// ============================================================================

// RedisCooldown 基于 Redis 的冷却锁，多个进程共享
type RedisCooldown struct {
	client *redis.Client
	prefix string
	owner  string
	ttl    time.Duration
}

func NewRedisCooldown(client *redis.Client, prefix string, ttl time.Duration) *RedisCooldown {
	return &RedisCooldown{
		client: client,
		prefix: prefix,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryAcquire 非阻塞，冷却中返回 false
func (c *RedisCooldown) TryAcquire(ctx context.Context, key string) (bool, error) {
	return c.client.SetNX(ctx, c.prefix+key, c.owner, c.ttl).Result()
}

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Release 提前结束冷却，只删除自己持有的 key
func (c *RedisCooldown) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, c.client, []string{c.prefix + key}, c.owner).Err()
}

// LocalCooldown 进程内冷却锁，未启用 Redis 时使用
type LocalCooldown struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewLocalCooldown size 为最多跟踪的 key 数，超出时淘汰最早的
func NewLocalCooldown(size int, ttl time.Duration) *LocalCooldown {
	return &LocalCooldown{
		cache: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

func (c *LocalCooldown) TryAcquire(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache.Contains(key) {
		return false, nil
	}
	c.cache.Add(key, struct{}{})
	return true, nil
}

func (c *LocalCooldown) Release(_ context.Context, key string) error {
	c.cache.Remove(key)
	return nil
}
