package nomadly

import "github.com/StrawberryAcai/Nomadly.backend/internal/eventbus"

// WithEventBus sets the bus plan events are published on.
// The planner does not close a bus it was given.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(p *Planner) {
		p.eventBus = bus
	}
}
