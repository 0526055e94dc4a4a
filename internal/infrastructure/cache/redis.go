package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"economy/internal/config"
	"economy/internal/model"
)

// NewRedis 创建客户端并 Ping 一次
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

const balanceKeyPrefix = "economy:balance:"

// BalanceMirror 把已落库的余额同步到 Redis，供其他服务只读查询
//
// 只在批次落库成功后写入，所以 Redis 中的值永远不会领先于数据库
type BalanceMirror struct {
	client *redis.Client
}

func NewBalanceMirror(client *redis.Client) *BalanceMirror {
	return &BalanceMirror{client: client}
}

func balanceKey(id uuid.UUID) string {
	return balanceKeyPrefix + id.String()
}

// OnCommit 同一实体只写批次中的最后一个值
func (m *BalanceMirror) OnCommit(ctx context.Context, batch []model.PendingMutation) error {
	latest := make(map[uuid.UUID]decimal.Decimal, len(batch))
	for _, mu := range batch {
		latest[mu.EntityID] = mu.Balance
	}

	pipe := m.client.Pipeline()
	for id, balance := range latest {
		pipe.Set(ctx, balanceKey(id), balance.String(), 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get 读取镜像余额，不存在返回 false
func (m *BalanceMirror) Get(ctx context.Context, id uuid.UUID) (decimal.Decimal, bool, error) {
	val, err := m.client.Get(ctx, balanceKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	balance, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis: bad balance %q for %s: %w", val, id, err)
	}
	return balance, true, nil
}
