package session

import "sync"

// executionGuard enforces one in-flight execution per session.
type executionGuard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newExecutionGuard() *executionGuard {
	return &executionGuard{busy: make(map[string]struct{})}
}

// TryAcquire reserves the session for an execution. It returns false if
// another execution already holds it.
func (g *executionGuard) TryAcquire(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[sessionID]; ok {
		return false
	}
	g.busy[sessionID] = struct{}{}
	return true
}

func (g *executionGuard) Release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, sessionID)
}
