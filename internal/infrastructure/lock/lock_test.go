package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDistributedLockMutualExclusion(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "a", time.Minute)
	b := NewDistributedLock(client, "k", "b", time.Minute)

	ok, err := a.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("a.TryLock = %v, %v", ok, err)
	}
	ok, err = b.TryLock(ctx)
	if err != nil || ok {
		t.Fatalf("b.TryLock should fail while a holds the lock: %v, %v", ok, err)
	}

	// b 不能释放 a 的锁
	if err := b.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
	ok, _ = b.TryLock(ctx)
	if ok {
		t.Fatal("b acquired lock after unlocking someone else's key")
	}

	if err := a.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
	ok, err = b.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("b.TryLock after release = %v, %v", ok, err)
	}
}

func TestDistributedLockExpires(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "", time.Second)
	if ok, _ := a.TryLock(ctx); !ok {
		t.Fatal("expected lock")
	}
	mr.FastForward(2 * time.Second)

	b := NewDistributedLock(client, "k", "", time.Second)
	if ok, _ := b.TryLock(ctx); !ok {
		t.Fatal("expected lock after ttl")
	}
}

func TestDistributedLockGivesUp(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "k", "", time.Minute)
	if ok, _ := holder.TryLock(ctx); !ok {
		t.Fatal("expected lock")
	}
	waiter := NewDistributedLock(client, "k", "", time.Minute)
	err := waiter.Lock(ctx, time.Millisecond, 3)
	if !errors.Is(err, ErrLockFailed) {
		t.Fatalf("err = %v, want ErrLockFailed", err)
	}
}

func TestRedisUserLockerSerializesSameUser(t *testing.T) {
	_, client := newRedis(t)
	locker := NewRedisUserLocker(client, time.Minute, time.Millisecond, 5000)
	assertSerialized(t, locker)
}

func TestLocalUserLockerSerializesSameUser(t *testing.T) {
	assertSerialized(t, NewLocalUserLocker())
}

func assertSerialized(t *testing.T, locker UserLocker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.LockUser(context.Background(), "u1")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestLocalUserLockerDifferentUsersInParallel(t *testing.T) {
	locker := NewLocalUserLocker()
	unlockA, err := locker.LockUser(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locker.LockUser(ctx, "b")
	if err != nil {
		t.Fatalf("user b blocked by user a: %v", err)
	}
	unlockB()
}

func TestLocalUserLockerHonoursCancellation(t *testing.T) {
	locker := NewLocalUserLocker()
	unlock, _ := locker.LockUser(context.Background(), "u")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.LockUser(ctx, "u"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	unlock()
	unlock() // 重复调用无副作用

	locker.mu.Lock()
	n := len(locker.locks)
	locker.mu.Unlock()
	if n != 0 {
		t.Fatalf("lock table not cleaned up: %d entries", n)
	}
}
