package assistant

import "sync"

// laneLock serializes turns of the same conversation while letting
// different conversations proceed in parallel. A global mutex guards the
// lane map only long enough to find or create the per-conversation mutex.
type laneLock struct {
	mu    sync.Mutex
	lanes map[int64]*lane
}

// lane is the mutex of one conversation. refs counts holders and waiters;
// the entry is dropped when it reaches zero.
type lane struct {
	mu   sync.Mutex
	refs int
}

func newLaneLock() *laneLock {
	return &laneLock{lanes: make(map[int64]*lane)}
}

// acquire blocks until the conversation's lane is free. The caller must
// call release with the same id.
func (l *laneLock) acquire(convID int64) {
	l.mu.Lock()
	ln, ok := l.lanes[convID]
	if !ok {
		ln = &lane{}
		l.lanes[convID] = ln
	}
	ln.refs++
	l.mu.Unlock()

	ln.mu.Lock()
}

func (l *laneLock) release(convID int64) {
	l.mu.Lock()
	ln, ok := l.lanes[convID]
	if !ok {
		l.mu.Unlock()
		return
	}
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, convID)
	}
	l.mu.Unlock()

	ln.mu.Unlock()
}

// size reports how many lanes are tracked.
func (l *laneLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
