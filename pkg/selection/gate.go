// Package selection propagates selections between an embedding and the data
// it represents without feeding them back in a loop.
package selection

import "sync"

// State of a Gate.
type State int

const (
	Idle State = iota
	Suppressing
)

func (s State) String() string {
	if s == Suppressing {
		return "suppressing"
	}
	return "idle"
}

// Gate swallows the echoes of an action. After Arm(n) the next n calls to
// Pass return false, then the gate is idle again.
type Gate struct {
	mu      sync.Mutex
	state   State
	pending int
}

// Arm expects n echoes. Arming an armed gate adds to the pending count.
func (g *Gate) Arm(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending += n
	g.state = Suppressing
}

// Pass reports whether an incoming event should be handled. Echoes are
// consumed and rejected.
func (g *Gate) Pass() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Idle {
		return true
	}
	g.pending--
	if g.pending <= 0 {
		g.pending = 0
		g.state = Idle
	}
	return false
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Reset drops pending echoes.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = Idle
	g.pending = 0
}
