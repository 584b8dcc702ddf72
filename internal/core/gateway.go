// services/gateway/internal/core/gateway.go
package core

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Gateway bundles the gateway's state and engines into one object built at
// startup and passed by reference; there is no ambient global state.
type Gateway struct {
	Registry   *Registry
	Authorizer *Authorizer
	Router     *Router
	Relay      *Relay

	logger    *logrus.Logger
	closeOnce sync.Once
	closed    chan struct{}
}

// NewGateway assembles a gateway from its engines.
func NewGateway(registry *Registry, authorizer *Authorizer, router *Router, relay *Relay, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{
		Registry:   registry,
		Authorizer: authorizer,
		Router:     router,
		Relay:      relay,
		logger:     logger,
		closed:     make(chan struct{}),
	}
}

// HandleEvent dispatches one inbound backend event.
func (g *Gateway) HandleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventReady:
		g.Registry.Bootstrap(ev.Devices)
	case EventAddDevice:
		if ev.Device != nil {
			g.Registry.Upsert(*ev.Device)
			g.logger.WithField("device", ev.Device.ID).Info("Device registered")
		}
	case EventRemoveDevice:
		if ev.Device != nil {
			g.Registry.Remove(ev.Device.ID)
			g.logger.WithField("device", ev.Device.ID).Info("Device removed")
		}
	case EventCommand:
		if ev.Command != nil {
			if err := g.Relay.Deliver(ctx, *ev.Command); err != nil {
				g.logger.WithError(err).Error("Command relay failed")
			}
		}
	case EventClose:
		g.closeOnce.Do(func() { close(g.closed) })
	default:
		g.logger.WithField("kind", string(ev.Kind)).Warn("Unknown backend event")
	}
}

// Done is closed when the backend requests shutdown.
func (g *Gateway) Done() <-chan struct{} {
	return g.closed
}
