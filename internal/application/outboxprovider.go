package application

import (
	"sync"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

// Compile-time check that OutboxProvider satisfies the Outbox port.
var _ driven.Outbox = (*OutboxProvider)(nil)

// OutboxProvider enables runtime hot-swap of the controller link. It holds a
// mutex-protected reference to the current driven.Outbox so a reconnecting
// controller replaces the previous link without touching the device loop.
type OutboxProvider struct {
	mu     sync.RWMutex
	outbox driven.Outbox
}

// NewOutboxProvider creates a provider with no link attached.
func NewOutboxProvider() *OutboxProvider {
	return &OutboxProvider{}
}

// Get returns the current outbox, or nil when no controller is connected.
func (p *OutboxProvider) Get() driven.Outbox {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.outbox
}

// Replace installs outbox as the current link and returns the previous one,
// which may be nil.
func (p *OutboxProvider) Replace(outbox driven.Outbox) driven.Outbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.outbox
	p.outbox = outbox
	return prev
}

// Detach clears the current link only if it is still outbox, so a closing
// link cannot remove the one that replaced it. It reports whether it did.
func (p *OutboxProvider) Detach(outbox driven.Outbox) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outbox != outbox {
		return false
	}
	p.outbox = nil
	return true
}

// HasOutbox returns true if a controller link is currently attached.
func (p *OutboxProvider) HasOutbox() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.outbox != nil
}

// Send forwards msg to the current link, or returns driven.ErrNoController.
func (p *OutboxProvider) Send(msg model.Message, done func(error)) error {
	outbox := p.Get()
	if outbox == nil {
		return driven.ErrNoController
	}
	return outbox.Send(msg, done)
}
