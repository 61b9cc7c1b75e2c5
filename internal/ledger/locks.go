package ledger

import (
	"context"
	"sync"
)

// userLocks hands out one mutex per user id. Entries are reference counted
// and dropped once nobody holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// acquire blocks until the user's lock is held or ctx is done.
func (u *userLocks) acquire(ctx context.Context, userID string) (func(), error) {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{sem: make(chan struct{}, 1)}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		u.release(userID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			u.release(userID, l)
		})
	}, nil
}

func (u *userLocks) release(userID string, l *userLock) {
	u.mu.Lock()
	defer u.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(u.locks, userID)
	}
}

func (u *userLocks) size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.locks)
}
