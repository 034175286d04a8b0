package viz

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"

	"trajtrack-core/closed_loop/tracking"
)

// Publisher renders orchestrator outputs onto the hub.
type Publisher struct {
	hub   *Hub
	clock clock.Clock
}

var _ tracking.Publisher = (*Publisher)(nil)

// NewPublisher stamps messages with c and broadcasts them on hub.
func NewPublisher(hub *Hub, c clock.Clock) *Publisher {
	if c == nil {
		c = clock.New()
	}
	return &Publisher{hub: hub, clock: c}
}

// PublishGlobalPath broadcasts the path as a line strip marker.
func (p *Publisher) PublishGlobalPath(_ context.Context, path []r2.Point) {
	now := p.clock.Now()
	p.hub.Broadcast(newMessage(MessageTypeGlobalPath, GlobalPathMarker(path, now), now))
}

// PublishLocalWindow broadcasts the reference window as a marker.
func (p *Publisher) PublishLocalWindow(_ context.Context, window []r2.Point) {
	now := p.clock.Now()
	p.hub.Broadcast(newMessage(MessageTypeLocalWindow, LocalWindowMarker(window, now), now))
}

// PublishCommand broadcasts cmd as a twist.
func (p *Publisher) PublishCommand(_ context.Context, cmd tracking.Command) {
	p.hub.Broadcast(newMessage(MessageTypeCommand, TwistFromCommand(cmd), p.clock.Now()))
}
