package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView answers whether a named module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused. A nil view or empty
// module name always passes so engines work unwired in tests.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a concurrency-safe PauseView the node populates from the
// governance parameter store and mutates on pause and resume operations.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSet builds an empty pause set with every module running.
func NewPauseSet() *PauseSet {
	return &PauseSet{paused: make(map[string]bool)}
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

// SetPaused flips the pause flag for one module.
func (p *PauseSet) SetPaused(module string, paused bool) {
	if p == nil {
		return
	}
	name := normalizeModule(module)
	if name == "" {
		return
	}
	p.mu.Lock()
	p.paused[name] = paused
	p.mu.Unlock()
}

// Replace swaps in a full pause snapshot, used when reloading persisted
// governance state.
func (p *PauseSet) Replace(paused map[string]bool) {
	if p == nil {
		return
	}
	next := make(map[string]bool, len(paused))
	for module, value := range paused {
		name := normalizeModule(module)
		if name == "" {
			continue
		}
		next[name] = value
	}
	p.mu.Lock()
	p.paused = next
	p.mu.Unlock()
}

// Snapshot returns a copy of the current pause flags.
func (p *PauseSet) Snapshot() map[string]bool {
	if p == nil {
		return map[string]bool{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	snapshot := make(map[string]bool, len(p.paused))
	for module, value := range p.paused {
		snapshot[module] = value
	}
	return snapshot
}

// IsPaused implements PauseView.
func (p *PauseSet) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[normalizeModule(module)]
}
