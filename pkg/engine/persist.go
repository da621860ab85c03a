package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Pr4shant/Deduction-Engine/pkg/core/types"
	"github.com/Pr4shant/Deduction-Engine/pkg/store"
)

// persister coalesces bursts of changes into one save after a quiet period.
type persister struct {
	store    store.Store
	debounce time.Duration
	state    func() types.State
	logger   *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	dirty  bool
	closed bool
	saveMu sync.Mutex
}

func newPersister(s store.Store, debounce time.Duration, state func() types.State, logger *slog.Logger) *persister {
	return &persister{store: s, debounce: debounce, state: state, logger: logger}
}

// Touch marks the state dirty and (re)arms the debounce timer.
func (p *persister) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.dirty = true
	if p.timer == nil {
		p.timer = time.AfterFunc(p.debounce, p.fire)
		return
	}
	p.timer.Reset(p.debounce)
}

func (p *persister) fire() {
	if err := p.Flush(); err != nil {
		p.logger.Warn("persist state failed", "error", err)
	}
}

// Flush saves now if anything changed since the last save.
func (p *persister) Flush() error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	p.mu.Lock()
	dirty := p.dirty
	p.dirty = false
	p.mu.Unlock()
	if !dirty {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := p.store.Save(ctx, p.state()); err != nil {
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the timer and saves pending changes.
func (p *persister) Close() error {
	p.mu.Lock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	return p.Flush()
}
