package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 加锁：SET key value NX EX ttl
//   - NX 保证互斥，EX 防止持有者崩溃后死锁
//   - value 是持有者令牌，释放时校验，避免误删别人的锁
//
// 释放：Lua 脚本里先比对 value 再 DEL，两步是原子的
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁，value 为空时生成随机令牌
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	if value == "" {
		value = uuid.NewString()
	}
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只会删除自己持有的 key
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// ============================================================================
// 按用户维度的积分锁
// ============================================================================

// RedisUserLocker 多实例部署时使用
// 同一用户的购买、扣减、调账、过期互斥，不同用户完全并行
type RedisUserLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisUserLocker(client *redis.Client, ttl, retryInterval time.Duration, maxRetries int) *RedisUserLocker {
	return &RedisUserLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

func userLockKey(userID string) string {
	return fmt.Sprintf("credit:lock:user:%s", userID)
}

func (l *RedisUserLocker) LockUser(ctx context.Context, userID string) (func(), error) {
	dl := NewDistributedLock(l.client, userLockKey(userID), "", l.ttl)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 请求被取消也要释放锁，不复用调用方的 ctx
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = dl.Unlock(unlockCtx)
	}, nil
}

// NewSweepLock 过期扫描的全局锁，保证多实例下同一时刻只有一个扫描在跑
func NewSweepLock(client *redis.Client, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, "credit:lock:expiration_sweep", "", ttl)
}
