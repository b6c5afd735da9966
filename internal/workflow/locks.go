package workflow

import "sync"

// issueLocks serializes mutations per issue so concurrent operation
// submissions against the same issue are applied one at a time.
type issueLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIssueLocks() *issueLocks {
	return &issueLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *issueLocks) lock(issueID string) func() {
	l.mu.Lock()
	m, ok := l.locks[issueID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[issueID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
