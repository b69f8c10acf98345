package graph

import "sync"

// threadLocks admits at most one turn per thread in this process.
type threadLocks struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newThreadLocks() *threadLocks {
	return &threadLocks{busy: make(map[string]struct{})}
}

// tryAcquire marks threadID busy. It never blocks: a second caller gets
// ok=false and should report ErrThreadBusy.
func (l *threadLocks) tryAcquire(threadID string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.busy[threadID]; taken {
		return nil, false
	}
	l.busy[threadID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.busy, threadID)
			l.mu.Unlock()
		})
	}, true
}
