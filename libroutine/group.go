package libroutine

import (
	"context"
	"sync"
	"time"
)

// Group manages a set of keyed breaker loops so that at most one loop runs
// per key at a time. Breaker parameters are fixed on first use of a key.
type Group struct {
	mu       sync.Mutex
	managers map[string]*Routine
	active   map[string]bool
	triggers map[string]chan struct{}
}

var (
	groupOnce     sync.Once
	groupInstance *Group
)

// GetGroup returns the process-wide singleton group.
func GetGroup() *Group {
	groupOnce.Do(func() {
		groupInstance = &Group{
			managers: make(map[string]*Routine),
			active:   make(map[string]bool),
			triggers: make(map[string]chan struct{}),
		}
	})
	return groupInstance
}

// LoopConfig describes a supervised loop started via StartLoop.
type LoopConfig struct {
	Key          string
	Threshold    int
	ResetTimeout time.Duration
	Interval     time.Duration
	Operation    func(ctx context.Context) error
}

// StartLoop starts a breaker-guarded loop for cfg.Key unless one is already
// running. The loop ends when ctx is cancelled, after which the key may be
// started again. The breaker created for a key keeps its initial threshold
// and reset timeout on subsequent calls.
func (g *Group) StartLoop(ctx context.Context, cfg *LoopConfig) {
	g.mu.Lock()
	if g.active[cfg.Key] {
		g.mu.Unlock()
		return
	}
	manager, ok := g.managers[cfg.Key]
	if !ok {
		manager = NewRoutine(cfg.Threshold, cfg.ResetTimeout)
		g.managers[cfg.Key] = manager
	}
	trigger, ok := g.triggers[cfg.Key]
	if !ok {
		trigger = make(chan struct{}, 1)
		g.triggers[cfg.Key] = trigger
	}
	g.active[cfg.Key] = true
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.active, cfg.Key)
			g.mu.Unlock()
		}()
		manager.Loop(ctx, cfg.Interval, trigger, cfg.Operation, nil)
	}()
}

// ForceUpdate triggers an immediate run of the loop for key. A trigger is
// dropped when one is already pending.
func (g *Group) ForceUpdate(key string) {
	g.mu.Lock()
	trigger := g.triggers[key]
	g.mu.Unlock()
	if trigger == nil {
		return
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}

// GetManager returns the breaker for key, or nil when the key is unknown.
func (g *Group) GetManager(key string) *Routine {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.managers[key]
}

// IsLoopActive reports whether a loop is currently running for key.
func (g *Group) IsLoopActive(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[key]
}
