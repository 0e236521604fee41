package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/pkg"
)

// Power implements hal.PowerController in memory.
type Power struct {
	mutex   sync.Mutex
	state   hal.PowerState
	history []hal.PowerState
	fail    error
}

var _ hal.PowerController = (*Power)(nil)

// NewPower creates a controller in [hal.PowerFull].
func NewPower() *Power {
	return &Power{state: hal.PowerFull}
}

// Fail makes every SetState return err until called again with nil.
func (p *Power) Fail(err error) {
	p.mutex.Lock()
	p.fail = err
	p.mutex.Unlock()
}

// SetState implements hal.PowerController. Leaving [hal.PowerOff] is only
// allowed towards [hal.PowerFull].
func (p *Power) SetState(ctx context.Context, state hal.PowerState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state > hal.PowerOff {
		return fmt.Errorf("%w: %s", pkg.ErrInvalidParameter, state)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.fail != nil {
		return p.fail
	}
	if p.state == hal.PowerOff && state != hal.PowerFull && state != hal.PowerOff {
		return fmt.Errorf("%w: %s -> %s", pkg.ErrInvalidParameter, p.state, state)
	}
	if p.state != state {
		pkg.LogDebug(pkg.ComponentHAL, "power state changed", "from", p.state, "to", state)
	}
	p.state = state
	p.history = append(p.history, state)
	return nil
}

// State implements hal.PowerController.
func (p *Power) State() hal.PowerState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

// History returns every state set, oldest first.
func (p *Power) History() []hal.PowerState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]hal.PowerState(nil), p.history...)
}
