package sessions

import (
	"sync"
	"time"
)

// DefaultGracePeriod is how long a disconnect is tolerated before the
// user is treated as gone.
const DefaultGracePeriod = 10 * time.Second

// graceTable is the process-local table of pending disconnect timers.
// Arming replaces any existing timer for the user; a timer that fires
// removes itself before running its callback. Nothing outside this
// process can observe it, and pending timers do not survive a restart.
type graceTable struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newGraceTable() *graceTable {
	return &graceTable{timers: make(map[string]*time.Timer)}
}

func (g *graceTable) Arm(userID string, delay time.Duration, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.timers[userID]; ok {
		old.Stop()
	}
	g.timers[userID] = time.AfterFunc(delay, func() {
		g.mu.Lock()
		delete(g.timers, userID)
		g.mu.Unlock()
		fn()
	})
}

// Disarm cancels the pending timer, reporting whether one existed.
func (g *graceTable) Disarm(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	timer, ok := g.timers[userID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(g.timers, userID)
	return true
}

func (g *graceTable) Armed(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.timers[userID]
	return ok
}
