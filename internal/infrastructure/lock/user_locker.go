package lock

import (
	"context"
	"sync"
)

// UserLocker 按用户维度的互斥
// 返回的 unlock 必须调用且只调用一次
type UserLocker interface {
	LockUser(ctx context.Context, userID string) (unlock func(), err error)
}

// LocalUserLocker 单实例部署时使用的进程内锁
type LocalUserLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalUserLocker() *LocalUserLocker {
	return &LocalUserLocker{locks: make(map[string]*userLock)}
}

func (l *LocalUserLocker) LockUser(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{sem: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.sem
			l.release(userID, ul)
		})
	}, nil
}

func (l *LocalUserLocker) release(userID string, ul *userLock) {
	l.mu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()
}
