package ledger

import "sync"

// teamLocks hands out one mutex per team so operations on different teams
// run in parallel while operations on the same team are serialized.
type teamLocks struct {
	mu    sync.Mutex // protects the map itself
	locks map[string]*sync.Mutex
}

func newTeamLocks() *teamLocks {
	return &teamLocks{locks: make(map[string]*sync.Mutex)}
}

// lock blocks until teamID's mutex is held and returns its release func.
func (l *teamLocks) lock(teamID string) func() {
	l.mu.Lock()
	m, ok := l.locks[teamID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[teamID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

