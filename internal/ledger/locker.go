package ledger

import (
	"context"
	"sync"
)

// UserLocker hands out one mutual-exclusion slot per user id.
// Acquisition honours context cancellation, so a waiting caller never blocks
// past its deadline. Entries are dropped once nobody holds or waits on them.
type UserLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	slot chan struct{}
	refs int
}

// NewUserLocker creates an empty locker.
func NewUserLocker() *UserLocker {
	return &UserLocker{locks: make(map[string]*userLock)}
}

// Lock blocks until the user's slot is free or ctx is done.
// On success it returns the function that releases the slot.
func (l *UserLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{slot: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-ul.slot
				l.release(userID, ul)
			})
		}, nil
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, ctx.Err()
	}
}

func (l *UserLocker) release(userID string, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
}

// size reports how many users currently have a lock entry.
func (l *UserLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
